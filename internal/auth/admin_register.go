package auth

import (
	"context"

	"github.com/angelmondragon/todolimpio-backend/internal/users"
	"github.com/angelmondragon/todolimpio-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/todolimpio-backend/pkg/errors"
)

// AdminRegisterRequest contains the credentials for the dev-only admin registration flow.
type AdminRegisterRequest struct {
	DisplayName string `json:"nombreusuario" validate:"required"`
	Email       string `json:"email" validate:"required"`
	Password    string `json:"password" validate:"required"`
	LocationID  string `json:"identificadorubicacion" validate:"required"`
}

// AdminRegisterService handles creating dev admin users.
type AdminRegisterService interface {
	Register(ctx context.Context, req AdminRegisterRequest) (*users.Record, error)
}

type userCreator interface {
	Create(ctx context.Context, input users.CreateInput) (*users.Record, error)
}

type adminRegisterService struct {
	users userCreator
}

// NewAdminRegisterService builds a dev admin registration service.
func NewAdminRegisterService(creator userCreator) (AdminRegisterService, error) {
	if creator == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "user service required")
	}
	return &adminRegisterService{users: creator}, nil
}

func (s *adminRegisterService) Register(ctx context.Context, req AdminRegisterRequest) (*users.Record, error) {
	return s.users.Create(ctx, users.CreateInput{
		DisplayName: req.DisplayName,
		Email:       req.Email,
		Password:    req.Password,
		LocationID:  req.LocationID,
		Role:        string(enums.RoleAdmin),
	})
}
