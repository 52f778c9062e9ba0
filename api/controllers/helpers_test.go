package controllers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/todolimpio-backend/api/middleware"
	"github.com/angelmondragon/todolimpio-backend/pkg/auth"
	"github.com/angelmondragon/todolimpio-backend/pkg/enums"
)

var (
	ana   = &auth.Identity{ID: "7c1e0f52-3a4b-4d5e-8f60-718293a4b5c6", DisplayName: "ana", LocationID: "L1", Role: enums.RoleUser}
	admin = &auth.Identity{ID: "7c1e0f52-3a4b-4d5e-8f60-718293a4b5c7", DisplayName: "root", LocationID: "L1", Role: enums.RoleAdmin}
)

func asIdentity(req *http.Request, identity *auth.Identity) *http.Request {
	return req.WithContext(middleware.WithIdentity(req.Context(), identity, "jti-test"))
}

func decodeData[T any](t *testing.T, resp *httptest.ResponseRecorder) T {
	t.Helper()
	var envelope struct {
		Data T `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&envelope))
	return envelope.Data
}

func decodeErrorCode(t *testing.T, resp *httptest.ResponseRecorder) string {
	t.Helper()
	var envelope struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&envelope))
	return envelope.Error.Code
}
