package auth

import "github.com/angelmondragon/todolimpio-backend/pkg/enums"

// Identity is the signed-in principal as seen by every component. It is
// persisted with the session and returned by the current-identity lookup.
type Identity struct {
	ID          string     `json:"id"`
	DisplayName string     `json:"nombreusuario"`
	LocationID  string     `json:"identificadorubicacion"`
	Role        enums.Role `json:"rol"`
}

// IsAdmin reports whether the identity holds the admin role.
func (i *Identity) IsAdmin() bool {
	return i != nil && i.Role == enums.RoleAdmin
}

// Valid reports whether the identity can own a cart or an order.
func (i *Identity) Valid() bool {
	return i != nil && i.ID != ""
}
