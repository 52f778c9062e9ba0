package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/angelmondragon/todolimpio-backend/api/responses"
	pkgerrors "github.com/angelmondragon/todolimpio-backend/pkg/errors"
	"github.com/angelmondragon/todolimpio-backend/pkg/logger"
	pkgredis "github.com/angelmondragon/todolimpio-backend/pkg/redis"
)

const (
	idempotencyHeader = "Idempotency-Key"

	defaultIdempotencyTTL  = 24 * time.Hour
	criticalIdempotencyTTL = 7 * 24 * time.Hour
)

// idempotentRoute describes a mutating endpoint whose responses are replayed
// for a repeated Idempotency-Key. An empty suffix means an exact path match.
type idempotentRoute struct {
	method string
	path   string
	suffix string
	ttl    time.Duration
}

func (r idempotentRoute) matches(method, path string) bool {
	if method != r.method {
		return false
	}
	if r.suffix == "" {
		return path == r.path
	}
	return len(path) > len(r.path)+len(r.suffix) &&
		strings.HasPrefix(path, r.path) && strings.HasSuffix(path, r.suffix)
}

var idempotentRoutes = []idempotentRoute{
	{method: http.MethodPost, path: "/api/v1/checkout", ttl: criticalIdempotencyTTL},
	{method: http.MethodPost, path: "/api/v1/admin/users", ttl: defaultIdempotencyTTL},
	{method: http.MethodPost, path: "/api/admin/v1/auth/register", ttl: defaultIdempotencyTTL},
	{method: http.MethodPatch, path: "/api/v1/admin/orders/", suffix: "/status", ttl: defaultIdempotencyTTL},
}

// idempotencyTTL reports how long a response for method+path is retained.
func idempotencyTTL(method, path string) (time.Duration, bool) {
	for _, route := range idempotentRoutes {
		if route.matches(method, path) {
			return route.ttl, true
		}
	}
	return 0, false
}

// IdempotencyStore reserves keys with SetNX and overwrites the reservation
// with the finished response.
type IdempotencyStore interface {
	pkgredis.IdempotencyStore
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
}

// storedResponse is the JSON value kept under an idempotency key. A zero
// Status marks a request that is still running. Body is base64 encoded by
// encoding/json.
type storedResponse struct {
	Status      int    `json:"status"`
	ContentType string `json:"content_type,omitempty"`
	Body        []byte `json:"body,omitempty"`
	BodyHash    string `json:"body_hash"`
}

func (s storedResponse) pending() bool {
	return s.Status == 0
}

func (s storedResponse) writeTo(w http.ResponseWriter) {
	if s.ContentType != "" {
		w.Header().Set("Content-Type", s.ContentType)
	}
	w.WriteHeader(s.Status)
	_, _ = w.Write(s.Body)
}

func errKeyInFlight() error {
	return pkgerrors.New(pkgerrors.CodeIdempotency, "a request with this idempotency key is still in progress")
}

// Idempotency runs an opted-in request at most once per key. The key is
// reserved before the handler runs, so a concurrent duplicate is rejected
// instead of racing; the finished non-5xx response is then replayed for
// later duplicates. Reusing a key with a different body is rejected with
// IDEMPOTENCY_KEY_REUSED.
func Idempotency(store IdempotencyStore, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			clientKey := strings.TrimSpace(r.Header.Get(idempotencyHeader))
			// r.URL.Path, not the chi pattern: mounted routers have not
			// finished matching when this runs.
			ttl, guarded := idempotencyTTL(r.Method, r.URL.Path)
			if store == nil || clientKey == "" || !guarded {
				next.ServeHTTP(w, r)
				return
			}
			ctx := r.Context()

			body, err := io.ReadAll(r.Body)
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read request"))
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))
			digest := sha256.Sum256(body)
			bodyHash := hex.EncodeToString(digest[:])

			scope := strings.Join([]string{UserIDFromContext(ctx), r.Method, r.URL.Path}, "|")
			key := store.IdempotencyKey(scope, clientKey)

			raw, err := store.Get(ctx, key)
			switch {
			case errors.Is(err, pkgredis.Nil):
			case err != nil:
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check idempotency"))
				return
			case raw != "":
				var prior storedResponse
				if err := json.Unmarshal([]byte(raw), &prior); err != nil {
					responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode idempotency record"))
					return
				}
				switch {
				case prior.BodyHash != bodyHash:
					responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeIdempotency, "idempotency key reused with different request body"))
				case prior.pending():
					responses.WriteError(ctx, logg, w, errKeyInFlight())
				default:
					prior.writeTo(w)
				}
				return
			}

			reservation, err := json.Marshal(storedResponse{BodyHash: bodyHash})
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode idempotency reservation"))
				return
			}
			reserved, err := store.SetNX(ctx, key, string(reservation), ttl)
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reserve idempotency key"))
				return
			}
			if !reserved {
				responses.WriteError(ctx, logg, w, errKeyInFlight())
				return
			}

			// the reservation must not outlive a failed or panicking handler
			// for the whole ttl; the cleanup also runs when the client is gone
			storeCtx := context.WithoutCancel(ctx)
			completed := false
			defer func() {
				if completed {
					return
				}
				if err := store.Del(storeCtx, key); err != nil && logg != nil {
					logg.Error(ctx, "release idempotency reservation", err)
				}
			}()

			capture := &capturingWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(capture, r)

			// a failed attempt stays retryable under the same key
			if capture.status >= http.StatusInternalServerError {
				return
			}

			payload, err := json.Marshal(storedResponse{
				Status:      capture.status,
				ContentType: capture.Header().Get("Content-Type"),
				Body:        capture.body.Bytes(),
				BodyHash:    bodyHash,
			})
			if err == nil {
				err = store.Set(storeCtx, key, string(payload), ttl)
			}
			if err != nil {
				if logg != nil {
					logg.Error(ctx, "persist idempotency record", err)
				}
				return
			}
			completed = true
		})
	}
}

// capturingWriter tees the response body so it can be stored after the
// handler returns.
type capturingWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
	body        bytes.Buffer
}

func (c *capturingWriter) WriteHeader(code int) {
	if !c.wroteHeader {
		c.status = code
		c.wroteHeader = true
	}
	c.ResponseWriter.WriteHeader(code)
}

func (c *capturingWriter) Write(b []byte) (int, error) {
	c.wroteHeader = true
	c.body.Write(b)
	return c.ResponseWriter.Write(b)
}
