package identity

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"opsline/internal/domain"
	"opsline/internal/repo"
)

var (
	ErrInvalidCredential = errors.New("invalid credentials")
	ErrUserInactive      = errors.New("user account is inactive")
	ErrUserNotFound      = errors.New("user not found")
)

// Service resolves credentials to identities. Tokens carry only the
// subject; roles and permissions are always read back from the
// database so a revoked role takes effect on the next request, not at
// token expiry.
type Service struct {
	Repo       repo.Repo
	JWTSecret  string
	TokenTTL   time.Duration
	BcryptCost int
	Now        func() time.Time
}

func (s Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s Service) ttl() time.Duration {
	if s.TokenTTL > 0 {
		return s.TokenTTL
	}
	return 24 * time.Hour
}

func (s Service) cost() int {
	if s.BcryptCost >= bcrypt.MinCost && s.BcryptCost <= bcrypt.MaxCost {
		return s.BcryptCost
	}
	return bcrypt.DefaultCost
}

// HashPassword returns the bcrypt hash for storage.
func (s Service) HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost())
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// CheckPassword compares a candidate against a stored hash.
func (s Service) CheckPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// Login verifies email/password and returns the resolved identity plus
// a signed token. Inactive accounts are refused even with a correct
// password.
func (s Service) Login(ctx context.Context, email, password string) (domain.Identity, string, error) {
	u, err := s.Repo.GetUserByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.Identity{}, "", ErrInvalidCredential
		}
		return domain.Identity{}, "", err
	}
	if !s.CheckPassword(u.PasswordHash, password) {
		return domain.Identity{}, "", ErrInvalidCredential
	}
	if !u.IsActive {
		return domain.Identity{}, "", ErrUserInactive
	}
	id, err := s.resolve(ctx, u)
	if err != nil {
		return domain.Identity{}, "", err
	}
	token, err := s.IssueToken(u.ID)
	if err != nil {
		return domain.Identity{}, "", err
	}
	now := s.now().UTC().Format(time.RFC3339)
	if err := s.Repo.TouchLastLogin(ctx, u.ID, now); err != nil {
		return domain.Identity{}, "", err
	}
	return id, token, nil
}

// IssueToken signs a token whose subject is the user id.
func (s Service) IssueToken(userID int64) (string, error) {
	now := s.now()
	claims := jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		Subject:   strconv.FormatInt(userID, 10),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl())),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(s.JWTSecret))
}

// ResolveToken validates a token and resolves its subject to a fresh
// identity from the database.
func (s Service) ResolveToken(ctx context.Context, token string) (domain.Identity, error) {
	if strings.TrimSpace(s.JWTSecret) == "" {
		return domain.Identity{}, errors.New("jwt secret not configured")
	}
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	claims := &jwt.RegisteredClaims{}
	parsed, err := parser.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return []byte(s.JWTSecret), nil
	})
	if err != nil || !parsed.Valid {
		return domain.Identity{}, ErrInvalidCredential
	}
	userID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || userID <= 0 {
		return domain.Identity{}, ErrInvalidCredential
	}
	return s.Resolve(ctx, userID)
}

// Resolve loads the user and assembles the identity. The account must
// exist and be active at resolution time.
func (s Service) Resolve(ctx context.Context, userID int64) (domain.Identity, error) {
	u, err := s.Repo.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.Identity{}, ErrUserNotFound
		}
		return domain.Identity{}, err
	}
	if !u.IsActive {
		return domain.Identity{}, ErrUserInactive
	}
	return s.resolve(ctx, u)
}

func (s Service) resolve(ctx context.Context, u domain.User) (domain.Identity, error) {
	roles, err := s.Repo.UserRoles(ctx, u.ID)
	if err != nil {
		return domain.Identity{}, fmt.Errorf("resolve roles: %w", err)
	}
	perms, err := s.Repo.UserPermissions(ctx, u.ID)
	if err != nil {
		return domain.Identity{}, fmt.Errorf("resolve permissions: %w", err)
	}
	return domain.Identity{
		UserID:      u.ID,
		Email:       u.Email,
		FullName:    u.FullName,
		Roles:       roles,
		Permissions: perms,
	}, nil
}
