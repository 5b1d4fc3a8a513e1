package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

var (
	// ErrInvalidCredentials is returned on a wrong email or password.
	ErrInvalidCredentials = errors.New("incorrect email or password")
	// ErrEmailTaken is returned when signing up an existing email.
	ErrEmailTaken = errors.New("email already registered")
	// ErrInvalidToken is returned when a token fails verification.
	ErrInvalidToken = errors.New("could not validate credentials")
	// ErrUserNotFound is returned by stores when no user matches.
	ErrUserNotFound = errors.New("user not found")
	// ErrInvalidRole is returned when signup requests an unknown role.
	ErrInvalidRole = errors.New("role must be either 'user' or 'admin'")
)

const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// User is a registered account. Password holds the bcrypt hash, never
// the plaintext.
type User struct {
	ID       string
	Email    string
	Password string
	Role     string
}

// Store persists user accounts.
type Store interface {
	Insert(ctx context.Context, user User) (string, error)
	ByEmail(ctx context.Context, email string) (User, error)
	ByID(ctx context.Context, id string) (User, error)
}

// Service issues and verifies bearer tokens for stored users.
type Service struct {
	store  Store
	secret []byte
	ttl    time.Duration
}

// New creates a Service signing tokens with secret. ttl defaults to 30
// minutes when zero.
func New(store Store, secret string, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &Service{store: store, secret: []byte(secret), ttl: ttl}
}

// Signup registers a new account and returns the stored user.
func (s *Service) Signup(ctx context.Context, email, password, role string) (User, error) {
	if role == "" {
		role = RoleUser
	}
	if role != RoleUser && role != RoleAdmin {
		return User{}, ErrInvalidRole
	}
	if _, err := s.store.ByEmail(ctx, email); err == nil {
		return User{}, ErrEmailTaken
	} else if !errors.Is(err, ErrUserNotFound) {
		return User{}, fmt.Errorf("failed to check existing user: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return User{}, fmt.Errorf("failed to hash password: %w", err)
	}

	user := User{Email: email, Password: string(hash), Role: role}
	id, err := s.store.Insert(ctx, user)
	if err != nil {
		return User{}, fmt.Errorf("failed to insert user: %w", err)
	}
	user.ID = id
	return user, nil
}

// Login checks the credentials and returns a signed bearer token.
func (s *Service) Login(ctx context.Context, email, password string) (string, error) {
	user, err := s.store.ByEmail(ctx, email)
	if errors.Is(err, ErrUserNotFound) {
		return "", ErrInvalidCredentials
	}
	if err != nil {
		return "", fmt.Errorf("failed to look up user: %w", err)
	}
	if bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(password)) != nil {
		return "", ErrInvalidCredentials
	}
	return s.issue(user.ID)
}

// Verify parses the token and loads the user it identifies.
func (s *Service) Verify(ctx context.Context, tokenString string) (User, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %q", t.Method.Alg())
		}
		return s.secret, nil
	})
	if err != nil || !token.Valid {
		return User{}, ErrInvalidToken
	}

	sub, err := token.Claims.GetSubject()
	if err != nil || sub == "" {
		return User{}, ErrInvalidToken
	}

	user, err := s.store.ByID(ctx, sub)
	if errors.Is(err, ErrUserNotFound) {
		return User{}, ErrInvalidToken
	}
	if err != nil {
		return User{}, fmt.Errorf("failed to load user: %w", err)
	}
	return user, nil
}

// EnsureDefaultAdmin creates the bootstrap admin account when it does
// not exist yet. A blank email or password disables the bootstrap.
func (s *Service) EnsureDefaultAdmin(ctx context.Context, email, password string) error {
	if email == "" || password == "" {
		return nil
	}
	_, err := s.Signup(ctx, email, password, RoleAdmin)
	if errors.Is(err, ErrEmailTaken) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to create default admin: %w", err)
	}
	slog.Info("created default admin user", "email", email)
	return nil
}

func (s *Service) issue(userID string) (string, error) {
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(s.ttl)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}
