package users

import (
	"context"
	"strings"

	"gorm.io/gorm"

	"github.com/angelmondragon/todolimpio-backend/pkg/db/models"
)

// Repository is the sign-in path to usuarios. The gateway redacts
// contrasena_hash, so credential checks read the table directly.
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// FindByEmail matches the stored lower-cased e-mail. A missing user is
// gorm.ErrRecordNotFound.
func (r *Repository) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	var user models.User
	err := r.db.WithContext(ctx).
		Where("email = ?", strings.ToLower(strings.TrimSpace(email))).
		Take(&user).Error
	if err != nil {
		return nil, err
	}
	return &user, nil
}
