package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/angelmondragon/todolimpio-backend/api/responses"
	pkgauth "github.com/angelmondragon/todolimpio-backend/pkg/auth"
	"github.com/angelmondragon/todolimpio-backend/pkg/auth/session"
	"github.com/angelmondragon/todolimpio-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/todolimpio-backend/pkg/errors"
	"github.com/angelmondragon/todolimpio-backend/pkg/logger"
)

const accessTokenQueryParam = "access_token"

// Auth validates the access token, resolves the identity from its session and
// seeds the request context with it. Browsers cannot set headers on WebSocket
// upgrades, so upgrades may pass the token as a query parameter instead.
func Auth(cfg config.JWTConfig, sessions session.IdentityLookup, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := BearerToken(r)
			if token == "" && websocket.IsWebSocketUpgrade(r) {
				token = strings.TrimSpace(r.URL.Query().Get(accessTokenQueryParam))
			}
			if token == "" {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials"))
				return
			}

			claims, err := pkgauth.ParseAccessToken(cfg, token)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid token"))
				return
			}
			if claims.ID == "" {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing session id"))
				return
			}

			identity, err := sessions.Lookup(r.Context(), claims.ID)
			if err != nil {
				if errors.Is(err, session.ErrSessionNotFound) {
					responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "session unavailable"))
					return
				}
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "validate session"))
				return
			}

			ctx := WithIdentity(r.Context(), identity, claims.ID)
			if logg != nil {
				ctx = logg.WithIdentity(ctx, identity.ID, string(identity.Role), identity.LocationID)
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// BearerToken extracts the token from the Authorization header.
func BearerToken(r *http.Request) string {
	token := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(token) >= 7 && strings.EqualFold(token[:7], "bearer ") {
		token = strings.TrimSpace(token[7:])
	}
	return token
}
