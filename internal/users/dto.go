package users

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/angelmondragon/todolimpio-backend/internal/gateway"
	"github.com/angelmondragon/todolimpio-backend/pkg/auth"
	"github.com/angelmondragon/todolimpio-backend/pkg/db/models"
	"github.com/angelmondragon/todolimpio-backend/pkg/enums"
)

// Record is the transport shape that omits credentials.
type Record struct {
	ID          string     `json:"id"`
	DisplayName string     `json:"nombreusuario"`
	Email       string     `json:"email"`
	LocationID  string     `json:"identificadorubicacion"`
	Role        enums.Role `json:"rol"`
	CreatedAt   time.Time  `json:"fechacreacion"`
}

// CreateInput holds what an administrator submits for a new user.
type CreateInput struct {
	DisplayName string `json:"nombreusuario" validate:"required"`
	Email       string `json:"email" validate:"required"`
	Password    string `json:"password" validate:"required"`
	LocationID  string `json:"identificadorubicacion" validate:"required"`
	Role        string `json:"rol" validate:"required"`
}

// Identity is the principal a user signs in as.
func (r Record) Identity() auth.Identity {
	return auth.Identity{
		ID:          r.ID,
		DisplayName: r.DisplayName,
		LocationID:  r.LocationID,
		Role:        r.Role,
	}
}

func FromModel(u *models.User) *Record {
	if u == nil {
		return nil
	}
	return &Record{
		ID:          u.ID.String(),
		DisplayName: u.DisplayName,
		Email:       u.Email,
		LocationID:  u.LocationID,
		Role:        u.Role,
		CreatedAt:   u.CreatedAt,
	}
}

// Decode reads a usuarios row as returned by the gateway.
func Decode(_ context.Context, row gateway.Row) (Record, error) {
	if row.ID() == "" {
		return Record{}, errors.New("user row has no id")
	}
	rec := Record{
		ID:          row.ID(),
		DisplayName: row.String("nombreusuario"),
		Email:       row.String("email"),
		LocationID:  row.String("identificadorubicacion"),
		Role:        enums.Role(row.String("rol")),
	}
	switch ts := row["fechacreacion"].(type) {
	case time.Time:
		rec.CreatedAt = ts
	case string:
		created, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return Record{}, fmt.Errorf("parsing fechacreacion: %w", err)
		}
		rec.CreatedAt = created
	}
	return rec, nil
}

// Key identifies a record inside a snapshot.
func Key(r Record) string {
	return r.ID
}
