package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"storefront/internal/models"
	"storefront/internal/store"
	"storefront/internal/util"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

const minPasswordLength = 6

// AuthService issues and verifies bearer tokens and manages accounts.
type AuthService struct {
	users      UserStore
	secret     []byte
	expiry     time.Duration
	bcryptCost int
	now        func() time.Time
	logger     *zap.Logger
}

// NewAuthService creates a new auth service
func NewAuthService(users UserStore, secret string, expiry time.Duration) *AuthService {
	return &AuthService{
		users:      users,
		secret:     []byte(secret),
		expiry:     expiry,
		bcryptCost: bcrypt.DefaultCost,
		now:        time.Now,
		logger:     util.GetLogger(),
	}
}

// RegisterRequest represents a sign-up request
type RegisterRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email" binding:"omitempty,email"`
	Password string `json:"password"`
}

// LoginRequest represents a sign-in request
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// AuthResponse is a user together with a freshly issued token.
type AuthResponse struct {
	ID    uuid.UUID `json:"_id"`
	Name  string    `json:"name"`
	Email string    `json:"email"`
	Role  string    `json:"role"`
	Token string    `json:"token"`
}

func newAuthResponse(user *models.User, token string) *AuthResponse {
	return &AuthResponse{ID: user.ID, Name: user.Name, Email: user.Email, Role: user.Role, Token: token}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Register creates a customer account and signs it in.
func (s *AuthService) Register(ctx context.Context, req *RegisterRequest) (*AuthResponse, error) {
	ctx, span := util.StartSpan(ctx, "AuthService.Register")
	defer span.End()

	name := strings.TrimSpace(req.Name)
	email := normalizeEmail(req.Email)
	if name == "" || email == "" || req.Password == "" {
		return nil, newError(ErrInvalidRequest, "Please provide name, email and password")
	}
	if len(req.Password) < minPasswordLength {
		return nil, newError(ErrInvalidRequest, fmt.Sprintf("Password must be at least %d characters", minPasswordLength))
	}

	user, err := s.createUser(ctx, name, email, req.Password, models.RoleCustomer)
	if err != nil {
		return nil, err
	}

	token, err := s.IssueToken(user)
	if err != nil {
		return nil, err
	}

	s.logger.Info("User registered", zap.String("user_id", user.ID.String()))
	return newAuthResponse(user, token), nil
}

func (s *AuthService) createUser(ctx context.Context, name, email, password, role string) (*models.User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := &models.User{
		ID:           uuid.New(),
		Name:         name,
		Email:        email,
		PasswordHash: string(hash),
		Role:         role,
	}

	if err := s.users.CreateUser(ctx, user); err != nil {
		if errors.Is(err, store.ErrDuplicateEmail) {
			return nil, newError(ErrInvalidRequest, "User already exists")
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return user, nil
}

// Login checks credentials and issues a token. Unknown email and wrong
// password are indistinguishable to the caller.
func (s *AuthService) Login(ctx context.Context, req *LoginRequest) (*AuthResponse, error) {
	ctx, span := util.StartSpan(ctx, "AuthService.Login")
	defer span.End()

	email := normalizeEmail(req.Email)
	if email == "" || req.Password == "" {
		return nil, newError(ErrInvalidRequest, "Please provide email and password")
	}

	user, err := s.users.GetUserByEmail(ctx, email)
	if errors.Is(err, store.ErrNotFound) {
		util.AuthFailuresTotal.WithLabelValues("unknown_email").Inc()
		return nil, newError(ErrUnauthenticated, "Invalid credentials")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		util.AuthFailuresTotal.WithLabelValues("bad_password").Inc()
		return nil, newError(ErrUnauthenticated, "Invalid credentials")
	}

	token, err := s.IssueToken(user)
	if err != nil {
		return nil, err
	}
	return newAuthResponse(user, token), nil
}

// IssueToken signs an HS256 token whose subject is the user id.
func (s *AuthService) IssueToken(user *models.User) (string, error) {
	now := s.now()
	claims := jwt.RegisteredClaims{
		Subject:   user.ID.String(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.expiry)),
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return token, nil
}

// Authenticate resolves an Authorization header of the form
// "Bearer <token>" to the user it was issued for.
func (s *AuthService) Authenticate(ctx context.Context, header string) (*models.User, error) {
	ctx, span := util.StartSpan(ctx, "AuthService.Authenticate")
	defer span.End()

	raw, ok := strings.CutPrefix(header, "Bearer ")
	raw = strings.TrimSpace(raw)
	if !ok || raw == "" {
		util.AuthFailuresTotal.WithLabelValues("missing_token").Inc()
		return nil, newError(ErrUnauthenticated, "Not authorized, no token")
	}

	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		util.AuthFailuresTotal.WithLabelValues("invalid_token").Inc()
		return nil, newError(ErrUnauthenticated, "Not authorized, token failed")
	}

	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		util.AuthFailuresTotal.WithLabelValues("invalid_subject").Inc()
		return nil, newError(ErrUnauthenticated, "Not authorized, token failed")
	}

	user, err := s.users.GetUserByID(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		util.AuthFailuresTotal.WithLabelValues("unknown_user").Inc()
		return nil, newError(ErrUnauthenticated, "Not authorized, user not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	return user, nil
}

// RequireAdmin fails with ErrForbidden unless user is an admin.
func RequireAdmin(user *models.User) error {
	if !user.IsAdmin() {
		return newError(ErrForbidden, "Not authorized as admin")
	}
	return nil
}

// EnsureAdmin creates an admin account, or promotes the existing account
// with that email. It reports whether a new account was created.
func (s *AuthService) EnsureAdmin(ctx context.Context, name, email, password string) (*models.User, bool, error) {
	ctx, span := util.StartSpan(ctx, "AuthService.EnsureAdmin")
	defer span.End()

	email = normalizeEmail(email)
	if email == "" {
		return nil, false, newError(ErrInvalidRequest, "Email is required")
	}

	existing, err := s.users.GetUserByEmail(ctx, email)
	switch {
	case err == nil:
		if existing.Role != models.RoleAdmin {
			if err := s.users.UpdateUserRole(ctx, existing.ID, models.RoleAdmin); err != nil {
				return nil, false, fmt.Errorf("failed to promote user: %w", err)
			}
			existing.Role = models.RoleAdmin
			s.logger.Info("User promoted to admin", zap.String("user_id", existing.ID.String()))
		}
		return existing, false, nil
	case !errors.Is(err, store.ErrNotFound):
		return nil, false, fmt.Errorf("failed to load user: %w", err)
	}

	if strings.TrimSpace(name) == "" {
		name = "Admin"
	}
	if len(password) < minPasswordLength {
		return nil, false, newError(ErrInvalidRequest, fmt.Sprintf("Password must be at least %d characters", minPasswordLength))
	}

	user, err := s.createUser(ctx, strings.TrimSpace(name), email, password, models.RoleAdmin)
	if err != nil {
		return nil, false, err
	}
	s.logger.Info("Admin user created", zap.String("user_id", user.ID.String()))
	return user, true, nil
}
