package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"opsline/internal/domain"
)

const userCols = `id,email,password_hash,full_name,COALESCE(phone,'') AS phone,is_active,must_change_password,last_login,created_at`

func scanUser(row *sql.Row) (domain.User, error) {
	var u domain.User
	var lastLogin sql.NullString
	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.FullName, &u.Phone, &u.IsActive, &u.MustChangePassword, &lastLogin, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return u, ErrNotFound
	}
	u.LastLogin = strPtr(lastLogin)
	return u, err
}

func (r Repo) InsertUser(ctx context.Context, tx *sql.Tx, u domain.User, now string) (int64, error) {
	res, err := tx.ExecContext(ctx, `INSERT INTO users(email,password_hash,full_name,phone,is_active,must_change_password,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?)`,
		u.Email, u.PasswordHash, u.FullName, nullable(u.Phone), u.IsActive, u.MustChangePassword, now, now)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (r Repo) GetUser(ctx context.Context, id int64) (domain.User, error) {
	return scanUser(r.DB.QueryRowContext(ctx, `SELECT `+userCols+` FROM users WHERE id=?`, id))
}

func (r Repo) GetUserTx(ctx context.Context, tx *sql.Tx, id int64) (domain.User, error) {
	return scanUser(tx.QueryRowContext(ctx, `SELECT `+userCols+` FROM users WHERE id=?`, id))
}

func (r Repo) GetUserByEmail(ctx context.Context, email string) (domain.User, error) {
	return scanUser(r.DB.QueryRowContext(ctx, `SELECT `+userCols+` FROM users WHERE email=?`, email))
}

func (r Repo) ListUsers(ctx context.Context, activeOnly bool) ([]domain.User, error) {
	q := `SELECT ` + userCols + ` FROM users`
	if activeOnly {
		q += ` WHERE is_active=1`
	}
	q += ` ORDER BY full_name`
	rows, err := r.DB.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.User
	for rows.Next() {
		var u domain.User
		var lastLogin sql.NullString
		if err := rows.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.FullName, &u.Phone, &u.IsActive, &u.MustChangePassword, &lastLogin, &u.CreatedAt); err != nil {
			return nil, err
		}
		u.LastLogin = strPtr(lastLogin)
		res = append(res, u)
	}
	return res, rows.Err()
}

func (r Repo) TouchLastLogin(ctx context.Context, userID int64, now string) error {
	_, err := r.DB.ExecContext(ctx, `UPDATE users SET last_login=?, updated_at=? WHERE id=?`, now, now, userID)
	return err
}

func (r Repo) UpdateUserPassword(ctx context.Context, tx *sql.Tx, userID int64, hash string, mustChange bool, now string) error {
	res, err := tx.ExecContext(ctx, `UPDATE users SET password_hash=?, must_change_password=?, updated_at=? WHERE id=?`,
		hash, mustChange, now, userID)
	if err != nil {
		return err
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) UpdateUser(ctx context.Context, tx *sql.Tx, id int64, fullName, phone *string, isActive *bool, now string) error {
	var (
		fields []string
		args   []any
	)
	if fullName != nil {
		fields = append(fields, "full_name=?")
		args = append(args, *fullName)
	}
	if phone != nil {
		fields = append(fields, "phone=?")
		args = append(args, nullable(*phone))
	}
	if isActive != nil {
		fields = append(fields, "is_active=?")
		args = append(args, *isActive)
	}
	if len(fields) == 0 {
		return nil
	}
	fields = append(fields, "updated_at=?")
	args = append(args, now, id)
	res, err := tx.ExecContext(ctx, fmt.Sprintf(`UPDATE users SET %s WHERE id=?`, strings.Join(fields, ",")), args...)
	if err != nil {
		return err
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// UserRoles returns the role names held by a user.
func (r Repo) UserRoles(ctx context.Context, userID int64) ([]domain.Role, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT r.role_name FROM user_roles ur JOIN roles r ON r.id=ur.role_id WHERE ur.user_id=? ORDER BY r.role_name`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var roles []domain.Role
	for rows.Next() {
		var role domain.Role
		if err := rows.Scan(&role); err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	return roles, rows.Err()
}

// UserPermissions returns the union of permissions granted to a user
// through all of their roles, deduplicated.
func (r Repo) UserPermissions(ctx context.Context, userID int64) ([]domain.Permission, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT DISTINCT p.permission_name
FROM user_roles ur
JOIN role_permissions rp ON rp.role_id=ur.role_id
JOIN permissions p ON p.id=rp.permission_id
WHERE ur.user_id=? ORDER BY p.permission_name`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var perms []domain.Permission
	for rows.Next() {
		var p domain.Permission
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		perms = append(perms, p)
	}
	return perms, rows.Err()
}

func (r Repo) GetRoleByName(ctx context.Context, name domain.Role) (domain.RoleRecord, error) {
	var rec domain.RoleRecord
	err := r.DB.QueryRowContext(ctx, `SELECT id,role_name,role_display_name FROM roles WHERE role_name=?`, name).
		Scan(&rec.ID, &rec.Name, &rec.DisplayName)
	if err == sql.ErrNoRows {
		return rec, ErrNotFound
	}
	return rec, err
}

func (r Repo) ListRoles(ctx context.Context) ([]domain.RoleRecord, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,role_name,role_display_name FROM roles ORDER BY role_name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.RoleRecord
	for rows.Next() {
		var rec domain.RoleRecord
		if err := rows.Scan(&rec.ID, &rec.Name, &rec.DisplayName); err != nil {
			return nil, err
		}
		res = append(res, rec)
	}
	return res, rows.Err()
}

func (r Repo) ListPermissions(ctx context.Context) ([]domain.PermissionRecord, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,permission_name,module FROM permissions ORDER BY module, permission_name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.PermissionRecord
	for rows.Next() {
		var rec domain.PermissionRecord
		if err := rows.Scan(&rec.ID, &rec.Name, &rec.Module); err != nil {
			return nil, err
		}
		res = append(res, rec)
	}
	return res, rows.Err()
}

func (r Repo) AssignRoleTx(ctx context.Context, tx *sql.Tx, userID, roleID int64, now string) error {
	_, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO user_roles(user_id,role_id,assigned_at) VALUES (?,?,?)`, userID, roleID, now)
	return err
}

func (r Repo) RemoveRoleTx(ctx context.Context, tx *sql.Tx, userID, roleID int64) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM user_roles WHERE user_id=? AND role_id=?`, userID, roleID)
	if err != nil {
		return err
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) CountUserRolesTx(ctx context.Context, tx *sql.Tx, userID int64) (int, error) {
	var n int
	err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM user_roles WHERE user_id=?`, userID).Scan(&n)
	return n, err
}
