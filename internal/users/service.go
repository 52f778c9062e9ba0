package users

import (
	"context"
	"errors"
	"regexp"
	"slices"
	"strings"

	"github.com/angelmondragon/todolimpio-backend/internal/gateway"
	"github.com/angelmondragon/todolimpio-backend/internal/reconciler"
	"github.com/angelmondragon/todolimpio-backend/pkg/config"
	"github.com/angelmondragon/todolimpio-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/todolimpio-backend/pkg/errors"
	"github.com/angelmondragon/todolimpio-backend/pkg/logger"
	"github.com/angelmondragon/todolimpio-backend/pkg/security"
)

var emailPattern = regexp.MustCompile(`\S+@\S+\.\S+`)

// Service backs the user administration screens.
type Service interface {
	List(ctx context.Context) ([]Record, error)
	Create(ctx context.Context, input CreateInput) (*Record, error)
	StreamScope() reconciler.Config[Record]
}

type userGateway interface {
	Select(ctx context.Context, table gateway.Table, q gateway.Query) ([]gateway.Row, error)
	Insert(ctx context.Context, table gateway.Table, row gateway.Row) (gateway.Row, error)
}

type service struct {
	gw          userGateway
	passwordCfg config.PasswordConfig
	logg        *logger.Logger
}

func NewService(gw userGateway, passwordCfg config.PasswordConfig, logg *logger.Logger) (Service, error) {
	if gw == nil {
		return nil, errors.New("gateway is required")
	}
	if logg == nil {
		logg = logger.Nop()
	}
	return &service{gw: gw, passwordCfg: passwordCfg, logg: logg}, nil
}

var byName = []gateway.Order{{Column: "nombreusuario"}}

func (s *service) List(ctx context.Context) ([]Record, error) {
	rows, err := s.gw.Select(ctx, gateway.TableUsers, gateway.Query{Order: byName})
	if err != nil {
		return nil, gateway.ToAPI(err, "list users")
	}
	out := make([]Record, 0, len(rows))
	for _, row := range rows {
		rec, err := Decode(ctx, row)
		if err != nil {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

// Create validates the input, hashes the password and inserts the user. The
// e-mail is stored lower-cased.
func (s *service) Create(ctx context.Context, input CreateInput) (*Record, error) {
	input.DisplayName = strings.TrimSpace(input.DisplayName)
	input.Email = strings.ToLower(strings.TrimSpace(input.Email))
	input.LocationID = strings.TrimSpace(input.LocationID)

	missing := make([]string, 0, 5)
	for field, value := range map[string]string{
		"nombreusuario":          input.DisplayName,
		"email":                  input.Email,
		"password":               input.Password,
		"identificadorubicacion": input.LocationID,
		"rol":                    input.Role,
	} {
		if strings.TrimSpace(value) == "" {
			missing = append(missing, field)
		}
	}
	if len(missing) > 0 {
		slices.Sort(missing)
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "all fields are required").
			WithDetails(map[string]any{"missing": missing})
	}
	if !emailPattern.MatchString(input.Email) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "email is not valid")
	}
	role, err := enums.ParseRole(input.Role)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "rol must be admin or usuario")
	}

	hash, err := security.HashPassword(input.Password, s.passwordCfg)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "hash password")
	}

	row, err := s.gw.Insert(ctx, gateway.TableUsers, gateway.Row{
		"nombreusuario":          input.DisplayName,
		"email":                  input.Email,
		"contrasena_hash":        hash,
		"identificadorubicacion": input.LocationID,
		"rol":                    string(role),
	})
	if err != nil {
		if gateway.IsKind(err, gateway.KindConflict) {
			return nil, pkgerrors.Wrap(pkgerrors.CodeConflict, err, "email already registered")
		}
		return nil, gateway.ToAPI(err, "create user")
	}
	rec, err := Decode(ctx, row)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "decode user")
	}

	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"created_user_id": rec.ID,
		"rol":             rec.Role,
	}), "user created")
	return &rec, nil
}

// StreamScope follows every user, sorted by name, with new users appended.
func (s *service) StreamScope() reconciler.Config[Record] {
	return reconciler.Config[Record]{
		Table:     gateway.TableUsers,
		Order:     byName,
		Placement: reconciler.Append,
		Decode:    Decode,
		Key:       Key,
	}
}
