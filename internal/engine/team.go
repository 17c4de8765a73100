package engine

import (
	"context"
	"errors"
	"strings"

	"opsline/internal/domain"
	"opsline/internal/repo"
)

// UserCreateOptions carries a pre-hashed password; the engine never
// sees plaintext credentials.
type UserCreateOptions struct {
	Email              string
	PasswordHash       string
	FullName           string
	Phone              string
	Roles              []domain.Role
	MustChangePassword bool
	ActorID            int64
}

func (e Engine) CreateUser(ctx context.Context, opts UserCreateOptions) (domain.User, error) {
	email := strings.ToLower(strings.TrimSpace(opts.Email))
	if email == "" || !strings.Contains(email, "@") {
		return domain.User{}, validationf("a valid email is required")
	}
	if opts.PasswordHash == "" {
		return domain.User{}, validationf("password is required")
	}
	if opts.FullName == "" {
		return domain.User{}, validationf("full name is required")
	}
	if len(opts.Roles) == 0 {
		return domain.User{}, validationf("at least one role is required")
	}
	roleRecords := make([]domain.RoleRecord, 0, len(opts.Roles))
	for _, role := range opts.Roles {
		rec, err := e.Repo.GetRoleByName(ctx, role)
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return domain.User{}, validationf("unknown role %q", role)
			}
			return domain.User{}, err
		}
		roleRecords = append(roleRecords, rec)
	}
	if _, err := e.Repo.GetUserByEmail(ctx, email); err == nil {
		return domain.User{}, conflictf("email %s is already registered", email)
	} else if !errors.Is(err, repo.ErrNotFound) {
		return domain.User{}, err
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.User{}, err
	}
	defer tx.Rollback()

	now := e.nowRFC3339()
	u := domain.User{
		Email:              email,
		PasswordHash:       opts.PasswordHash,
		FullName:           opts.FullName,
		Phone:              opts.Phone,
		IsActive:           true,
		MustChangePassword: opts.MustChangePassword,
		CreatedAt:          now,
	}
	id, err := e.Repo.InsertUser(ctx, tx, u, now)
	if err != nil {
		return domain.User{}, err
	}
	u.ID = id
	for _, rec := range roleRecords {
		if err := e.Repo.AssignRoleTx(ctx, tx, id, rec.ID, now); err != nil {
			return domain.User{}, err
		}
		u.Roles = append(u.Roles, rec.Name)
	}
	if err := e.Events.Append(ctx, tx, opts.ActorID, "user.created", "user", id, u.Email); err != nil {
		return domain.User{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.User{}, err
	}
	return u, nil
}

// AssignUserRole grants an additional role. Granting a role the user
// already holds is a no-op.
func (e Engine) AssignUserRole(ctx context.Context, userID int64, role domain.Role, actorID int64) error {
	rec, err := e.Repo.GetRoleByName(ctx, role)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return validationf("unknown role %q", role)
		}
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := e.Repo.GetUserTx(ctx, tx, userID); err != nil {
		return err
	}
	now := e.nowRFC3339()
	if err := e.Repo.AssignRoleTx(ctx, tx, userID, rec.ID, now); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, actorID, "user.role_assigned", "user", userID, string(role)); err != nil {
		return err
	}
	return tx.Commit()
}

// RemoveUserRole revokes a role. Removing the last role is refused:
// an account with no roles could neither see nor do anything, which
// is what deactivation is for.
func (e Engine) RemoveUserRole(ctx context.Context, userID int64, role domain.Role, actorID int64) error {
	rec, err := e.Repo.GetRoleByName(ctx, role)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return validationf("unknown role %q", role)
		}
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	n, err := e.Repo.CountUserRolesTx(ctx, tx, userID)
	if err != nil {
		return err
	}
	if n <= 1 {
		return conflictf("cannot remove the last role from user %d", userID)
	}
	if err := e.Repo.RemoveRoleTx(ctx, tx, userID, rec.ID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return conflictf("user %d does not hold role %s", userID, role)
		}
		return err
	}
	if err := e.Events.Append(ctx, tx, actorID, "user.role_removed", "user", userID, string(role)); err != nil {
		return err
	}
	return tx.Commit()
}

// SetUserActive flips the account switch. Deactivation takes effect on
// the user's next request since identities resolve from the database.
func (e Engine) UpdateUser(ctx context.Context, userID int64, fullName, phone *string, actorID int64) (domain.User, error) {
	if fullName != nil && *fullName == "" {
		return domain.User{}, validationf("full name cannot be empty")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.User{}, err
	}
	defer tx.Rollback()

	u, err := e.Repo.GetUserTx(ctx, tx, userID)
	if err != nil {
		return domain.User{}, err
	}
	now := e.nowRFC3339()
	if err := e.Repo.UpdateUser(ctx, tx, userID, fullName, phone, nil, now); err != nil {
		return domain.User{}, err
	}
	if fullName != nil {
		u.FullName = *fullName
	}
	if phone != nil {
		u.Phone = *phone
	}
	if err := e.Events.Append(ctx, tx, actorID, "user.updated", "user", userID, u.FullName); err != nil {
		return domain.User{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.User{}, err
	}
	return u, nil
}

func (e Engine) SetUserActive(ctx context.Context, userID int64, active bool, actorID int64) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := e.Repo.GetUserTx(ctx, tx, userID); err != nil {
		return err
	}
	now := e.nowRFC3339()
	if err := e.Repo.UpdateUser(ctx, tx, userID, nil, nil, &active, now); err != nil {
		return err
	}
	action := "user.deactivated"
	if active {
		action = "user.activated"
	}
	if err := e.Events.Append(ctx, tx, actorID, action, "user", userID, ""); err != nil {
		return err
	}
	return tx.Commit()
}

// SetUserPassword stores a new hash. mustChange forces a change on the
// next login, used by admin resets.
func (e Engine) SetUserPassword(ctx context.Context, userID int64, hash string, mustChange bool, actorID int64) error {
	if hash == "" {
		return validationf("password is required")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := e.nowRFC3339()
	if err := e.Repo.UpdateUserPassword(ctx, tx, userID, hash, mustChange, now); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, actorID, "user.password_changed", "user", userID, ""); err != nil {
		return err
	}
	return tx.Commit()
}
