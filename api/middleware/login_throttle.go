package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/angelmondragon/todolimpio-backend/api/responses"
	"github.com/angelmondragon/todolimpio-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/todolimpio-backend/pkg/errors"
	"github.com/angelmondragon/todolimpio-backend/pkg/logger"
)

// WindowLimiter counts attempts per scope inside a fixed window.
type WindowLimiter interface {
	FixedWindowAllow(ctx context.Context, scope string, limit int64, window time.Duration) (bool, int64, error)
}

// LoginThrottle bounds sign-in attempts per client address and per email.
// The email counter is keyed by a hash so addresses never reach Redis.
type LoginThrottle struct {
	window     time.Duration
	ipLimit    int64
	emailLimit int64
	limiter    WindowLimiter
	logg       *logger.Logger
}

func NewLoginThrottle(cfg config.AuthRateLimitConfig, limiter WindowLimiter, logg *logger.Logger) *LoginThrottle {
	return &LoginThrottle{
		window:     cfg.LoginWindow,
		ipLimit:    int64(cfg.LoginIPLimit),
		emailLimit: int64(cfg.LoginEmailLimit),
		limiter:    limiter,
		logg:       logg,
	}
}

func (t *LoginThrottle) enabled() bool {
	return t != nil && t.limiter != nil && t.window > 0 && (t.ipLimit > 0 || t.emailLimit > 0)
}

func (t *LoginThrottle) Middleware(next http.Handler) http.Handler {
	if !t.enabled() {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if ip := clientIP(r); t.ipLimit > 0 && ip != "" {
			if !t.check(ctx, w, "login:ip:"+ip, t.ipLimit, map[string]any{"ip": ip}) {
				return
			}
		}

		if t.emailLimit > 0 {
			body, err := io.ReadAll(r.Body)
			if err != nil {
				responses.WriteError(ctx, t.logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read request"))
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			if email := extractEmail(body); email != "" {
				hash := hashValue(email)
				if !t.check(ctx, w, "login:email:"+hash, t.emailLimit, map[string]any{"email_hash": hash}) {
					return
				}
			}
		}

		next.ServeHTTP(w, r)
	})
}

// check reports whether the request may continue, writing the rejection
// itself when it may not.
func (t *LoginThrottle) check(ctx context.Context, w http.ResponseWriter, scope string, limit int64, fields map[string]any) bool {
	allowed, count, err := t.limiter.FixedWindowAllow(ctx, scope, limit, t.window)
	if err != nil {
		responses.WriteError(ctx, t.logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "rate limiting"))
		return false
	}
	if allowed {
		return true
	}

	if t.logg != nil {
		fields["attempts"] = count
		fields["limit"] = limit
		fields["window_seconds"] = int(t.window.Seconds())
		t.logg.Warn(t.logg.WithFields(ctx, fields), "auth.login.throttled")
	}
	w.Header().Set("Retry-After", strconv.Itoa(int(t.window.Seconds())))
	responses.WriteError(ctx, nil, w, pkgerrors.New(pkgerrors.CodeRateLimit, "too many sign-in attempts"))
	return false
}

func clientIP(r *http.Request) string {
	if header := r.Header.Get("X-Forwarded-For"); header != "" {
		first, _, _ := strings.Cut(header, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil && host != "" {
		return host
	}
	return r.RemoteAddr
}

func extractEmail(payload []byte) string {
	var body struct {
		Email string `json:"email"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(body.Email))
}

func hashValue(value string) string {
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])
}
