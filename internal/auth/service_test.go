package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/todolimpio-backend/internal/users"
	pkgauth "github.com/angelmondragon/todolimpio-backend/pkg/auth"
	"github.com/angelmondragon/todolimpio-backend/pkg/auth/session"
	"github.com/angelmondragon/todolimpio-backend/pkg/config"
	"github.com/angelmondragon/todolimpio-backend/pkg/db/models"
	"github.com/angelmondragon/todolimpio-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/todolimpio-backend/pkg/errors"
	"github.com/angelmondragon/todolimpio-backend/pkg/redis"
	"github.com/angelmondragon/todolimpio-backend/pkg/security"
)

var jwtCfg = config.JWTConfig{
	Secret:                 "secret",
	Issuer:                 "todolimpio",
	ExpirationMinutes:      30,
	RefreshTokenTTLMinutes: 120,
}

type stubUserRepo struct {
	user *models.User
	err  error
}

func (s *stubUserRepo) FindByEmail(_ context.Context, email string) (*models.User, error) {
	if s.err != nil {
		return nil, s.err
	}
	if s.user == nil || s.user.Email != email {
		return nil, gorm.ErrRecordNotFound
	}
	return s.user, nil
}

func mustHashPassword(t *testing.T, password string) string {
	t.Helper()
	hash, err := security.HashPassword(password, config.PasswordConfig{})
	require.NoError(t, err)
	return hash
}

func buildTestService(t *testing.T, repo userRepository, now func() time.Time) (Service, *session.Manager) {
	t.Helper()
	mr := miniredis.RunT(t)
	client, err := redis.New(context.Background(), config.RedisConfig{Address: mr.Addr()}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	manager, err := session.NewManager(client, jwtCfg)
	require.NoError(t, err)
	svc, err := NewService(ServiceParams{
		UserRepo:       repo,
		SessionManager: manager,
		JWTConfig:      jwtCfg,
		Clock:          now,
	})
	require.NoError(t, err)
	return svc, manager
}

func testUser(t *testing.T) *models.User {
	return &models.User{
		ID:           uuid.New(),
		DisplayName:  "Ana",
		Email:        "ana@example.com",
		PasswordHash: mustHashPassword(t, "s3creto"),
		LocationID:   "L1",
		Role:         enums.RoleAdmin,
	}
}

func TestLoginIssuesTokenAndSession(t *testing.T) {
	user := testUser(t)
	svc, manager := buildTestService(t, &stubUserRepo{user: user}, nil)
	ctx := context.Background()

	resp, err := svc.Login(ctx, LoginRequest{Email: "  ANA@example.com", Password: "s3creto"})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.RefreshToken)
	assert.Equal(t, pkgauth.Identity{
		ID:          user.ID.String(),
		DisplayName: "Ana",
		LocationID:  "L1",
		Role:        enums.RoleAdmin,
	}, resp.Identity)

	claims, err := pkgauth.ParseAccessToken(jwtCfg, resp.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, user.ID, claims.UserID)
	assert.Equal(t, enums.RoleAdmin, claims.Role)

	identity, err := manager.Lookup(ctx, claims.ID)
	require.NoError(t, err)
	assert.Equal(t, resp.Identity, *identity)
}

func TestLoginHidesWhichCredentialWasWrong(t *testing.T) {
	svc, _ := buildTestService(t, &stubUserRepo{user: testUser(t)}, nil)
	ctx := context.Background()

	_, wrongEmail := svc.Login(ctx, LoginRequest{Email: "nobody@example.com", Password: "s3creto"})
	_, wrongPassword := svc.Login(ctx, LoginRequest{Email: "ana@example.com", Password: "nope"})
	_, empty := svc.Login(ctx, LoginRequest{})

	for _, err := range []error{wrongEmail, wrongPassword, empty} {
		require.Error(t, err)
		assert.Equal(t, pkgerrors.CodeUnauthorized, pkgerrors.CodeOf(err))
		assert.Equal(t, invalidCredentialsMessage, pkgerrors.As(err).Message())
	}
}

func TestLoginRepositoryFailureIsDependency(t *testing.T) {
	svc, _ := buildTestService(t, &stubUserRepo{err: errors.New("db down")}, nil)
	_, err := svc.Login(context.Background(), LoginRequest{Email: "ana@example.com", Password: "x"})
	assert.Equal(t, pkgerrors.CodeDependency, pkgerrors.CodeOf(err))
}

func TestRefreshRotatesSession(t *testing.T) {
	issued := time.Now().Add(-time.Hour)
	clock := issued
	svc, manager := buildTestService(t, &stubUserRepo{user: testUser(t)}, func() time.Time { return clock })
	ctx := context.Background()

	first, err := svc.Login(ctx, LoginRequest{Email: "ana@example.com", Password: "s3creto"})
	require.NoError(t, err)
	// the first access token has expired by now
	_, err = pkgauth.ParseAccessToken(jwtCfg, first.AccessToken)
	require.Error(t, err)

	clock = time.Now()
	second, err := svc.Refresh(ctx, RefreshRequest{AccessToken: first.AccessToken, RefreshToken: first.RefreshToken})
	require.NoError(t, err)
	assert.NotEqual(t, first.RefreshToken, second.RefreshToken)
	assert.Equal(t, first.Identity, second.Identity)

	claims, err := pkgauth.ParseAccessToken(jwtCfg, second.AccessToken)
	require.NoError(t, err)
	_, err = manager.Lookup(ctx, claims.ID)
	require.NoError(t, err)

	_, err = svc.Refresh(ctx, RefreshRequest{AccessToken: first.AccessToken, RefreshToken: first.RefreshToken})
	assert.Equal(t, pkgerrors.CodeUnauthorized, pkgerrors.CodeOf(err))
}

func TestRefreshRejectsForgedToken(t *testing.T) {
	svc, _ := buildTestService(t, &stubUserRepo{}, nil)
	_, err := svc.Refresh(context.Background(), RefreshRequest{AccessToken: "not-a-jwt", RefreshToken: "x"})
	assert.Equal(t, pkgerrors.CodeUnauthorized, pkgerrors.CodeOf(err))
}

func TestLogoutInvalidatesIdentity(t *testing.T) {
	svc, manager := buildTestService(t, &stubUserRepo{user: testUser(t)}, nil)
	ctx := context.Background()

	resp, err := svc.Login(ctx, LoginRequest{Email: "ana@example.com", Password: "s3creto"})
	require.NoError(t, err)
	claims, err := pkgauth.ParseAccessToken(jwtCfg, resp.AccessToken)
	require.NoError(t, err)

	require.NoError(t, svc.Logout(ctx, claims.ID))
	_, err = manager.Lookup(ctx, claims.ID)
	assert.ErrorIs(t, err, session.ErrSessionNotFound)

	assert.Equal(t, pkgerrors.CodeUnauthorized, pkgerrors.CodeOf(svc.Logout(ctx, "")))
}

type recordingCreator struct {
	input users.CreateInput
}

func (r *recordingCreator) Create(_ context.Context, input users.CreateInput) (*users.Record, error) {
	r.input = input
	return &users.Record{ID: "u1", Email: input.Email, Role: enums.Role(input.Role)}, nil
}

func TestAdminRegisterCreatesAdmin(t *testing.T) {
	creator := &recordingCreator{}
	svc, err := NewAdminRegisterService(creator)
	require.NoError(t, err)

	rec, err := svc.Register(context.Background(), AdminRegisterRequest{
		DisplayName: "Root",
		Email:       "root@example.com",
		Password:    "pw",
		LocationID:  "HQ",
	})
	require.NoError(t, err)
	assert.Equal(t, enums.RoleAdmin, rec.Role)
	assert.Equal(t, "admin", creator.input.Role)
	assert.Equal(t, "HQ", creator.input.LocationID)
}
