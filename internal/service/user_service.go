package service

import (
	"context"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/pesio-ai/be-procurement-cases/internal/common/auth"
	"github.com/pesio-ai/be-procurement-cases/internal/common/errors"
	"github.com/pesio-ai/be-procurement-cases/internal/common/logger"
	"github.com/pesio-ai/be-procurement-cases/internal/repository"
	"github.com/pesio-ai/be-procurement-cases/internal/rules"
)

// TokenConfig holds the settings used to sign access tokens.
type TokenConfig struct {
	Secret          []byte
	Issuer          string
	TTL             time.Duration
	MFAValidityDays int
}

// UserService authenticates staff users and tracks their MFA freshness.
type UserService struct {
	store  repository.Store
	tokens TokenConfig
	now    func() time.Time
	log    *logger.Logger
}

// NewUserService creates a new UserService.
func NewUserService(store repository.Store, tokens TokenConfig, log *logger.Logger) *UserService {
	if tokens.MFAValidityDays <= 0 {
		tokens.MFAValidityDays = rules.MFAValidityDays
	}
	if log == nil {
		log = logger.Nop()
	}
	return &UserService{
		store:  store,
		tokens: tokens,
		now:    func() time.Time { return time.Now().UTC() },
		log:    log.With("user"),
	}
}

// LoginRequest represents a password login.
type LoginRequest struct {
	Email    string `json:"email" validate:"required,staffemail"`
	Password string `json:"password" validate:"required"`
}

// LoginResult is an issued token and whether the user must complete MFA.
type LoginResult struct {
	Token       string           `json:"token"`
	ExpiresAt   time.Time        `json:"expiresAt"`
	RequiresMFA bool             `json:"requiresMfa"`
	User        *repository.User `json:"user"`
}

// Login verifies the password of a user and issues an access token.
func (s *UserService) Login(ctx context.Context, req *LoginRequest) (*LoginResult, error) {
	if req == nil {
		return nil, errors.InvalidInput("body", "is required")
	}
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	user, err := s.store.GetUserByEmail(ctx, strings.TrimSpace(req.Email))
	if err != nil {
		return nil, err
	}
	if user == nil || bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)) != nil {
		return nil, errors.New(errors.ErrCodeUnauthorized, "invalid credentials")
	}

	now := s.now()
	token, err := s.IssueToken(user, now)
	if err != nil {
		return nil, err
	}

	s.log.Info().Str("user_id", user.ID).Msg("User logged in")

	return &LoginResult{
		Token:       token,
		ExpiresAt:   now.Add(s.tokens.TTL),
		RequiresMFA: rules.IsMFARequiredWithin(user.LastMFAAt, now, s.tokens.MFAValidityDays),
		User:        user,
	}, nil
}

// IssueToken signs an access token for user.
func (s *UserService) IssueToken(user *repository.User, now time.Time) (string, error) {
	token, err := auth.IssueToken(s.tokens.Secret, s.tokens.Issuer, user.ID, string(user.Role), s.tokens.TTL, now)
	if err != nil {
		return "", errors.Wrap(err, errors.ErrCodeInternal, "failed to sign token")
	}
	return token, nil
}

// ParseToken verifies an access token against the service clock.
func (s *UserService) ParseToken(raw string) (auth.UserContext, error) {
	uc, err := auth.ParseToken(s.tokens.Secret, s.tokens.Issuer, raw, s.now)
	if err != nil {
		return auth.UserContext{}, errors.Wrap(err, errors.ErrCodeUnauthorized, "invalid token")
	}
	return uc, nil
}

// GetUser returns a user by ID.
func (s *UserService) GetUser(ctx context.Context, id string) (*repository.User, error) {
	user, err := s.store.GetUser(ctx, id)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, errors.NotFound("user", id)
	}
	return user, nil
}

// FindByEmail returns the user registered under email, ignoring case.
func (s *UserService) FindByEmail(ctx context.Context, email string) (*repository.User, error) {
	user, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, errors.NotFound("user", email)
	}
	return user, nil
}

// ListUsers returns the users holding role, oldest first.
func (s *UserService) ListUsers(ctx context.Context, role repository.UserRole) ([]*repository.User, error) {
	if role != repository.RoleAdmin && role != repository.RoleBuyer {
		return nil, errors.InvalidInput("role", "must be one of ADMIN BUYER")
	}
	users, err := s.store.ListUsersByRole(ctx, role)
	if err != nil {
		return nil, err
	}
	if users == nil {
		users = []*repository.User{}
	}
	return users, nil
}

// Resolve loads the caller and checks its MFA freshness when requireMFA is
// set. The returned actor carries the stored role, not the token claim.
func (s *UserService) Resolve(ctx context.Context, userID string, requireMFA bool) (Actor, error) {
	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return Actor{}, err
	}
	if user == nil {
		return Actor{}, errors.New(errors.ErrCodeUnauthorized, "unknown user")
	}
	if requireMFA && rules.IsMFARequiredWithin(user.LastMFAAt, s.now(), s.tokens.MFAValidityDays) {
		return Actor{}, errors.Forbidden("mfa required")
	}
	return Actor{UserID: user.ID, Role: user.Role}, nil
}

// CreateUserRequest represents a new staff user.
type CreateUserRequest struct {
	Name     string              `json:"name" validate:"required"`
	Email    string              `json:"email" validate:"required,staffemail"`
	Role     repository.UserRole `json:"role" validate:"required,oneof=ADMIN BUYER"`
	Password string              `json:"password" validate:"required,min=8"`
}

// CreateUser adds a staff user with a hashed password. Emails are unique
// regardless of case.
func (s *UserService) CreateUser(ctx context.Context, req *CreateUserRequest) (*repository.User, error) {
	if req == nil {
		return nil, errors.InvalidInput("body", "is required")
	}
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	if err := notBlank("name", req.Name); err != nil {
		return nil, err
	}

	existing, err := s.store.GetUserByEmail(ctx, strings.TrimSpace(req.Email))
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, errors.New(errors.ErrCodeConflict, "user email already registered")
	}

	hash, err := HashPassword(req.Password)
	if err != nil {
		return nil, err
	}
	now := s.now()
	user := &repository.User{
		Name:         strings.TrimSpace(req.Name),
		Email:        strings.TrimSpace(req.Email),
		Role:         req.Role,
		PasswordHash: hash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		return nil, err
	}

	s.log.Info().Str("user_id", user.ID).Str("role", string(user.Role)).Msg("User created")
	return user, nil
}

// CountUsers returns the number of registered users.
func (s *UserService) CountUsers(ctx context.Context) (int64, error) {
	return s.store.CountUsers(ctx)
}

// RecordMFA marks that userID completed MFA now.
func (s *UserService) RecordMFA(ctx context.Context, userID string) error {
	found, err := s.store.UpdateUserMFA(ctx, userID, s.now())
	if err != nil {
		return err
	}
	if !found {
		return errors.NotFound("user", userID)
	}
	s.log.Info().Str("user_id", userID).Msg("MFA recorded")
	return nil
}

// HashPassword returns the bcrypt hash stored for a password.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", errors.Wrap(err, errors.ErrCodeInternal, "failed to hash password")
	}
	return string(hash), nil
}
