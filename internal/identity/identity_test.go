package identity_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"opsline/internal/config"
	"opsline/internal/db"
	"opsline/internal/domain"
	"opsline/internal/engine"
	"opsline/internal/identity"
	"opsline/internal/migrate"
	"opsline/internal/repo"
)

func newService(t *testing.T) (identity.Service, engine.Engine) {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	svc := identity.Service{
		Repo:       repo.Repo{DB: conn},
		JWTSecret:  "test-secret",
		TokenTTL:   time.Hour,
		BcryptCost: 4,
	}
	return svc, engine.New(conn, config.Default())
}

func seedUser(t *testing.T, svc identity.Service, eng engine.Engine, email, password string, roles ...domain.Role) domain.User {
	t.Helper()
	hash, err := svc.HashPassword(password)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	u, err := eng.CreateUser(context.Background(), engine.UserCreateOptions{
		Email:        email,
		PasswordHash: hash,
		FullName:     "User " + email,
		Roles:        roles,
	})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	return u
}

func TestLoginAndResolve(t *testing.T) {
	svc, eng := newService(t)
	seedUser(t, svc, eng, "dev@acme.test", "hunter2longer", domain.RoleDeveloper)
	ctx := context.Background()

	id, token, err := svc.Login(ctx, " DEV@acme.test ", "hunter2longer")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if token == "" {
		t.Fatalf("expected a token")
	}
	if !id.HasRole(domain.RoleDeveloper) {
		t.Fatalf("expected developer role, got %v", id.Roles)
	}
	resolved, err := svc.ResolveToken(ctx, token)
	if err != nil {
		t.Fatalf("resolve token: %v", err)
	}
	if resolved.UserID != id.UserID || resolved.Email != "dev@acme.test" {
		t.Fatalf("unexpected identity %+v", resolved)
	}
	// last_login is touched
	u, err := eng.Repo.GetUserByEmail(ctx, "dev@acme.test")
	if err != nil {
		t.Fatal(err)
	}
	if u.LastLogin == nil {
		t.Fatalf("expected last_login set after login")
	}
}

func TestLoginWrongPassword(t *testing.T) {
	svc, eng := newService(t)
	seedUser(t, svc, eng, "dev@acme.test", "hunter2longer", domain.RoleDeveloper)
	_, _, err := svc.Login(context.Background(), "dev@acme.test", "wrong")
	if !errors.Is(err, identity.ErrInvalidCredential) {
		t.Fatalf("expected ErrInvalidCredential, got %v", err)
	}
	// unknown account reads the same as a wrong password
	_, _, err = svc.Login(context.Background(), "nobody@acme.test", "whatever")
	if !errors.Is(err, identity.ErrInvalidCredential) {
		t.Fatalf("expected ErrInvalidCredential for unknown user, got %v", err)
	}
}

func TestInactiveUserRefused(t *testing.T) {
	svc, eng := newService(t)
	u := seedUser(t, svc, eng, "dev@acme.test", "hunter2longer", domain.RoleDeveloper)
	ctx := context.Background()
	_, token, err := svc.Login(ctx, "dev@acme.test", "hunter2longer")
	if err != nil {
		t.Fatal(err)
	}
	if err := eng.SetUserActive(ctx, u.ID, false, 0); err != nil {
		t.Fatal(err)
	}
	// deactivation takes effect on the next request even though the
	// token has not expired
	if _, err := svc.ResolveToken(ctx, token); !errors.Is(err, identity.ErrUserInactive) {
		t.Fatalf("expected ErrUserInactive, got %v", err)
	}
	if _, _, err := svc.Login(ctx, "dev@acme.test", "hunter2longer"); !errors.Is(err, identity.ErrUserInactive) {
		t.Fatalf("expected login refused, got %v", err)
	}
}

func TestRoleRevocationImmediate(t *testing.T) {
	svc, eng := newService(t)
	u := seedUser(t, svc, eng, "dev@acme.test", "hunter2longer", domain.RoleDeveloper, domain.RoleMarketing)
	ctx := context.Background()
	_, token, err := svc.Login(ctx, "dev@acme.test", "hunter2longer")
	if err != nil {
		t.Fatal(err)
	}
	if err := eng.RemoveUserRole(ctx, u.ID, domain.RoleMarketing, 0); err != nil {
		t.Fatal(err)
	}
	id, err := svc.ResolveToken(ctx, token)
	if err != nil {
		t.Fatal(err)
	}
	if id.HasRole(domain.RoleMarketing) {
		t.Fatalf("expected revoked role gone from resolved identity")
	}
}

func TestResolveTokenRejectsGarbage(t *testing.T) {
	svc, eng := newService(t)
	seedUser(t, svc, eng, "dev@acme.test", "hunter2longer", domain.RoleDeveloper)
	ctx := context.Background()
	for _, token := range []string{"", "not-a-jwt", "aaa.bbb.ccc"} {
		if _, err := svc.ResolveToken(ctx, token); !errors.Is(err, identity.ErrInvalidCredential) {
			t.Errorf("token %q: expected ErrInvalidCredential, got %v", token, err)
		}
	}
	// a token signed with a different secret is refused
	other := svc
	other.JWTSecret = "other-secret"
	forged, err := other.IssueToken(1)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svc.ResolveToken(ctx, forged); !errors.Is(err, identity.ErrInvalidCredential) {
		t.Fatalf("expected forged token refused, got %v", err)
	}
}

func TestExpiredTokenRefused(t *testing.T) {
	svc, eng := newService(t)
	u := seedUser(t, svc, eng, "dev@acme.test", "hunter2longer", domain.RoleDeveloper)
	past := svc
	past.Now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	past.TokenTTL = time.Hour
	token, err := past.IssueToken(u.ID)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svc.ResolveToken(context.Background(), token); !errors.Is(err, identity.ErrInvalidCredential) {
		t.Fatalf("expected expired token refused, got %v", err)
	}
}

func TestCheckPassword(t *testing.T) {
	svc, _ := newService(t)
	hash, err := svc.HashPassword("correct horse")
	if err != nil {
		t.Fatal(err)
	}
	if !svc.CheckPassword(hash, "correct horse") {
		t.Fatalf("expected match")
	}
	if svc.CheckPassword(hash, "battery staple") {
		t.Fatalf("expected mismatch")
	}
}
