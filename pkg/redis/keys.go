package redis

import "strings"

// Every key the backend writes lives under "tl:<area>:...".
const (
	keyNamespace = "tl"

	areaIdempotency = "idempotency"
	areaRateLimit   = "rate_limit"
	areaSession     = "session"
	areaCart        = "cart"
)

// IdempotencyKey holds a stored response for one client key within scope.
func (c *Client) IdempotencyKey(scope, id string) string {
	return key(areaIdempotency, scope, id)
}

// RateLimitKey holds a fixed-window counter.
func (c *Client) RateLimitKey(scope string) string {
	return key(areaRateLimit, scope)
}

// AccessSessionKey holds the session opened for an access token jti.
func (c *Client) AccessSessionKey(accessID string) string {
	return key(areaSession, "access", accessID)
}

// CartKey holds a serialized cart blob.
func (c *Client) CartKey(name string) string {
	return key(areaCart, name)
}

// key joins the non-blank parts under the namespace.
func key(parts ...string) string {
	var b strings.Builder
	b.WriteString(keyNamespace)
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			b.WriteByte(':')
			b.WriteString(part)
		}
	}
	return b.String()
}
