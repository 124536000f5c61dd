package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"dealdesk.org/internal/auth"
	"dealdesk.org/internal/crm"
)

const (
	pgErrUniqueViolation     = "23505"
	pgErrForeignKeyViolation = "23503"
)

type Store struct {
	db *sql.DB
}

var _ crm.Store = (*Store)(nil)

func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// NewWithDB wraps an existing connection, used by tests.
func NewWithDB(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// Users.

func (s *Store) CreateUser(ctx context.Context, u *crm.User) error {
	_, err := s.db.ExecContext(ctx, `
		insert into users (id, email, name, role, auth_type, password_hash, is_active, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, u.ID, u.Email, u.Name, string(u.Role), u.AuthType, u.PasswordHash, u.IsActive, u.CreatedAt, u.UpdatedAt)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return fmt.Errorf("%w: email %s already registered", crm.ErrConflict, u.Email)
		}
		return err
	}
	return nil
}

const userColumns = `id, email, name, role, auth_type, password_hash, is_active, created_at, updated_at`

func scanUser(row interface{ Scan(...any) error }) (crm.User, error) {
	var (
		u    crm.User
		role string
	)
	err := row.Scan(&u.ID, &u.Email, &u.Name, &role, &u.AuthType, &u.PasswordHash, &u.IsActive, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return crm.User{}, err
	}
	u.Role = auth.Role(role)
	return u, nil
}

func (s *Store) GetUser(ctx context.Context, id string) (crm.User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx, `select `+userColumns+` from users where id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return crm.User{}, fmt.Errorf("%w: user %s", crm.ErrNotFound, id)
	}
	return u, err
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (crm.User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx, `select `+userColumns+` from users where email = $1`, email))
	if errors.Is(err, sql.ErrNoRows) {
		return crm.User{}, fmt.Errorf("%w: user %s", crm.ErrNotFound, email)
	}
	return u, err
}

func (s *Store) ListUsers(ctx context.Context) ([]crm.User, error) {
	rows, err := s.db.QueryContext(ctx, `select `+userColumns+` from users order by email`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []crm.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, u)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) UpdateUser(ctx context.Context, id string, upd crm.UserUpdate) (crm.User, error) {
	var (
		setClauses []string
		args       []any
		idx        = 1
	)
	if upd.Email != nil {
		setClauses = append(setClauses, fmt.Sprintf("email = $%d", idx))
		args = append(args, *upd.Email)
		idx++
	}
	if upd.Name != nil {
		setClauses = append(setClauses, fmt.Sprintf("name = $%d", idx))
		args = append(args, *upd.Name)
		idx++
	}
	if upd.Role != nil {
		setClauses = append(setClauses, fmt.Sprintf("role = $%d", idx))
		args = append(args, string(*upd.Role))
		idx++
	}
	if upd.Password != nil {
		setClauses = append(setClauses, fmt.Sprintf("password_hash = $%d", idx))
		args = append(args, *upd.Password)
		idx++
	}
	if len(setClauses) > 0 {
		setClauses = append(setClauses, "updated_at = now()")
		query := fmt.Sprintf(`update users set %s where id = $%d`, strings.Join(setClauses, ", "), idx)
		args = append(args, id)
		res, err := s.db.ExecContext(ctx, query, args...)
		if err != nil {
			if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
				return crm.User{}, fmt.Errorf("%w: email already registered", crm.ErrConflict)
			}
			return crm.User{}, err
		}
		if aff, err := res.RowsAffected(); err == nil && aff == 0 {
			return crm.User{}, fmt.Errorf("%w: user %s", crm.ErrNotFound, id)
		}
	}
	return s.GetUser(ctx, id)
}

func (s *Store) SetUserActive(ctx context.Context, id string, active bool) error {
	res, err := s.db.ExecContext(ctx, `update users set is_active = $2, updated_at = now() where id = $1`, id, active)
	if err != nil {
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return fmt.Errorf("%w: user %s", crm.ErrNotFound, id)
	}
	return nil
}

func (s *Store) DeleteUserRow(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `delete from users where id = $1`, id)
	if err != nil {
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return fmt.Errorf("%w: user %s", crm.ErrNotFound, id)
	}
	return nil
}

func (s *Store) UserDependencies(ctx context.Context, id string) (crm.Dependencies, error) {
	var deps crm.Dependencies
	err := s.db.QueryRowContext(ctx, `
		select
			(select count(*) from deals where owner_id = $1),
			(select count(*) from deals where assigned_to_id = $1),
			(select count(*) from team_members where user_id = $1)
	`, id).Scan(&deps.OwnedDeals, &deps.AssignedDeals, &deps.TeamMemberships)
	if err != nil {
		return crm.Dependencies{}, err
	}
	return deps, nil
}

func (s *Store) ReassignUserRecords(ctx context.Context, fromID, toID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		update deals set owner_id = $2, updated_at = now() where owner_id = $1
	`, fromID, toID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		update deals set assigned_to_id = $2, updated_at = now() where assigned_to_id = $1
	`, fromID, toID); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) RemoveUserFromTeams(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `delete from team_members where user_id = $1`, id)
	return err
}

func (s *Store) DeleteUserCascade(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		delete from subtasks where task_id in (
			select t.id from tasks t join deals d on d.id = t.deal_id where d.owner_id = $1
		)
	`, id); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		delete from tasks where deal_id in (select id from deals where owner_id = $1)
	`, id); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `delete from deals where owner_id = $1`, id); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		update deals set assigned_to_id = null, updated_at = now() where assigned_to_id = $1
	`, id); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `delete from team_members where user_id = $1`, id); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `delete from users where id = $1`, id)
	if err != nil {
		return err
	}
	if aff, err := res.RowsAffected(); err == nil && aff == 0 {
		return fmt.Errorf("%w: user %s", crm.ErrNotFound, id)
	}
	return tx.Commit()
}

// Teams.

func (s *Store) CreateTeam(ctx context.Context, t *crm.Team) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		insert into teams (id, name, created_at, updated_at)
		values ($1, $2, $3, $4)
	`, t.ID, t.Name, t.CreatedAt, t.UpdatedAt); err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return fmt.Errorf("%w: team %s", crm.ErrConflict, t.ID)
		}
		return err
	}
	for _, member := range t.MemberIDs {
		if _, err := tx.ExecContext(ctx, `
			insert into team_members (team_id, user_id) values ($1, $2)
		`, t.ID, member); err != nil {
			if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrForeignKeyViolation {
				return fmt.Errorf("%w: unknown member %s", crm.ErrNotFound, member)
			}
			return err
		}
	}
	return tx.Commit()
}

func (s *Store) GetTeam(ctx context.Context, id string) (crm.Team, error) {
	var t crm.Team
	err := s.db.QueryRowContext(ctx, `
		select id, name, created_at, updated_at from teams where id = $1
	`, id).Scan(&t.ID, &t.Name, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return crm.Team{}, fmt.Errorf("%w: team %s", crm.ErrNotFound, id)
	}
	if err != nil {
		return crm.Team{}, err
	}
	t.MemberIDs, err = s.teamMembers(ctx, id)
	if err != nil {
		return crm.Team{}, err
	}
	return t, nil
}

func (s *Store) teamMembers(ctx context.Context, teamID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		select user_id from team_members where team_id = $1 order by user_id
	`, teamID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var members []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		members = append(members, id)
	}
	return members, rows.Err()
}

func (s *Store) ListTeams(ctx context.Context) ([]crm.Team, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, name, created_at, updated_at from teams order by name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []crm.Team
	for rows.Next() {
		var t crm.Team
		if err := rows.Scan(&t.ID, &t.Name, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, err
		}
		result = append(result, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range result {
		members, err := s.teamMembers(ctx, result[i].ID)
		if err != nil {
			return nil, err
		}
		result[i].MemberIDs = members
	}
	return result, nil
}

func (s *Store) UpdateTeam(ctx context.Context, id string, upd crm.TeamUpdate) (crm.Team, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return crm.Team{}, err
	}
	defer func() { _ = tx.Rollback() }()

	if upd.Name != nil {
		res, err := tx.ExecContext(ctx, `
			update teams set name = $2, updated_at = now() where id = $1
		`, id, *upd.Name)
		if err != nil {
			return crm.Team{}, err
		}
		if aff, err := res.RowsAffected(); err == nil && aff == 0 {
			return crm.Team{}, fmt.Errorf("%w: team %s", crm.ErrNotFound, id)
		}
	}
	if upd.MemberIDs != nil {
		if _, err := tx.ExecContext(ctx, `delete from team_members where team_id = $1`, id); err != nil {
			return crm.Team{}, err
		}
		for _, member := range *upd.MemberIDs {
			if _, err := tx.ExecContext(ctx, `
				insert into team_members (team_id, user_id) values ($1, $2)
			`, id, member); err != nil {
				return crm.Team{}, err
			}
		}
		if _, err := tx.ExecContext(ctx, `update teams set updated_at = now() where id = $1`, id); err != nil {
			return crm.Team{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return crm.Team{}, err
	}
	return s.GetTeam(ctx, id)
}

func (s *Store) DeleteTeam(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `delete from team_members where team_id = $1`, id); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		update deals set team_id = null, updated_at = now() where team_id = $1
	`, id); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `delete from teams where id = $1`, id)
	if err != nil {
		return err
	}
	if aff, err := res.RowsAffected(); err == nil && aff == 0 {
		return fmt.Errorf("%w: team %s", crm.ErrNotFound, id)
	}
	return tx.Commit()
}

func (s *Store) IsTeamMember(ctx context.Context, teamID, userID string) (bool, error) {
	var dummy int
	err := s.db.QueryRowContext(ctx, `
		select 1 from team_members where team_id = $1 and user_id = $2
	`, teamID, userID).Scan(&dummy)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) TeamsForUser(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		select team_id from team_members where user_id = $1 order by team_id
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var teams []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		teams = append(teams, id)
	}
	return teams, rows.Err()
}

// Deals.

const dealColumns = `id, title, stage, amount, owner_id, coalesce(assigned_to_id, ''), coalesce(team_id, ''), created_at, updated_at`

func scanDeal(row interface{ Scan(...any) error }) (crm.Deal, error) {
	var d crm.Deal
	err := row.Scan(&d.ID, &d.Title, &d.Stage, &d.Amount, &d.OwnerID, &d.AssignedToID, &d.TeamID, &d.CreatedAt, &d.UpdatedAt)
	return d, err
}

func (s *Store) CreateDeal(ctx context.Context, d *crm.Deal) error {
	_, err := s.db.ExecContext(ctx, `
		insert into deals (id, title, stage, amount, owner_id, assigned_to_id, team_id, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, d.ID, d.Title, d.Stage, d.Amount, d.OwnerID, nullIfEmpty(d.AssignedToID), nullIfEmpty(d.TeamID), d.CreatedAt, d.UpdatedAt)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrForeignKeyViolation {
			return fmt.Errorf("%w: deal references a missing record", crm.ErrNotFound)
		}
		return err
	}
	return nil
}

func (s *Store) GetDeal(ctx context.Context, id string) (crm.Deal, error) {
	d, err := scanDeal(s.db.QueryRowContext(ctx, `select `+dealColumns+` from deals where id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return crm.Deal{}, fmt.Errorf("%w: deal %s", crm.ErrNotFound, id)
	}
	return d, err
}

func (s *Store) DealOwnership(ctx context.Context, id string) (auth.Ownership, error) {
	var own auth.Ownership
	err := s.db.QueryRowContext(ctx, `
		select owner_id, coalesce(assigned_to_id, ''), coalesce(team_id, '')
		from deals where id = $1
	`, id).Scan(&own.OwnerID, &own.AssignedToID, &own.TeamID)
	if errors.Is(err, sql.ErrNoRows) {
		return auth.Ownership{}, fmt.Errorf("%w: deal %s", crm.ErrNotFound, id)
	}
	return own, err
}

// ListDeals applies the scope inside the query so restricted roles never
// pull rows they cannot see.
func (s *Store) ListDeals(ctx context.Context, scope crm.DealScope) ([]crm.Deal, error) {
	query := `select ` + dealColumns + ` from deals`
	var args []any
	if !scope.All {
		cond := `owner_id = $1 or assigned_to_id = $1`
		args = append(args, scope.UserID)
		if len(scope.TeamIDs) > 0 {
			placeholders := make([]string, len(scope.TeamIDs))
			for i, teamID := range scope.TeamIDs {
				placeholders[i] = fmt.Sprintf("$%d", i+2)
				args = append(args, teamID)
			}
			cond += ` or team_id in (` + strings.Join(placeholders, ", ") + `)`
		}
		query += ` where (` + cond + `)`
	}
	query += ` order by created_at desc`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []crm.Deal
	for rows.Next() {
		d, err := scanDeal(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, d)
	}
	return result, rows.Err()
}

func (s *Store) UpdateDeal(ctx context.Context, id string, upd crm.DealUpdate) (crm.Deal, error) {
	var (
		setClauses []string
		args       []any
		idx        = 1
	)
	if upd.Title != nil {
		setClauses = append(setClauses, fmt.Sprintf("title = $%d", idx))
		args = append(args, *upd.Title)
		idx++
	}
	if upd.Stage != nil {
		setClauses = append(setClauses, fmt.Sprintf("stage = $%d", idx))
		args = append(args, *upd.Stage)
		idx++
	}
	if upd.Amount != nil {
		setClauses = append(setClauses, fmt.Sprintf("amount = $%d", idx))
		args = append(args, *upd.Amount)
		idx++
	}
	if upd.AssignedToID != nil {
		setClauses = append(setClauses, fmt.Sprintf("assigned_to_id = $%d", idx))
		args = append(args, nullIfEmpty(*upd.AssignedToID))
		idx++
	}
	if upd.TeamID != nil {
		setClauses = append(setClauses, fmt.Sprintf("team_id = $%d", idx))
		args = append(args, nullIfEmpty(*upd.TeamID))
		idx++
	}
	if len(setClauses) > 0 {
		setClauses = append(setClauses, "updated_at = now()")
		query := fmt.Sprintf(`update deals set %s where id = $%d`, strings.Join(setClauses, ", "), idx)
		args = append(args, id)
		res, err := s.db.ExecContext(ctx, query, args...)
		if err != nil {
			return crm.Deal{}, err
		}
		if aff, err := res.RowsAffected(); err == nil && aff == 0 {
			return crm.Deal{}, fmt.Errorf("%w: deal %s", crm.ErrNotFound, id)
		}
	}
	return s.GetDeal(ctx, id)
}

func (s *Store) DeleteDeal(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		delete from subtasks where task_id in (select id from tasks where deal_id = $1)
	`, id); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `delete from tasks where deal_id = $1`, id); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `delete from deals where id = $1`, id)
	if err != nil {
		return err
	}
	if aff, err := res.RowsAffected(); err == nil && aff == 0 {
		return fmt.Errorf("%w: deal %s", crm.ErrNotFound, id)
	}
	return tx.Commit()
}

// Tasks and subtasks.

func (s *Store) CreateTask(ctx context.Context, t *crm.Task) error {
	_, err := s.db.ExecContext(ctx, `
		insert into tasks (id, deal_id, title, done, created_at)
		values ($1, $2, $3, $4, $5)
	`, t.ID, t.DealID, t.Title, t.Done, t.CreatedAt)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrForeignKeyViolation {
			return fmt.Errorf("%w: deal %s", crm.ErrNotFound, t.DealID)
		}
		return err
	}
	return nil
}

func (s *Store) GetTask(ctx context.Context, id string) (crm.Task, error) {
	var t crm.Task
	err := s.db.QueryRowContext(ctx, `
		select id, deal_id, title, done, created_at from tasks where id = $1
	`, id).Scan(&t.ID, &t.DealID, &t.Title, &t.Done, &t.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return crm.Task{}, fmt.Errorf("%w: task %s", crm.ErrNotFound, id)
	}
	return t, err
}

func (s *Store) ListTasks(ctx context.Context, dealID string) ([]crm.Task, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, deal_id, title, done, created_at from tasks where deal_id = $1 order by created_at
	`, dealID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []crm.Task
	for rows.Next() {
		var t crm.Task
		if err := rows.Scan(&t.ID, &t.DealID, &t.Title, &t.Done, &t.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, t)
	}
	return result, rows.Err()
}

func (s *Store) UpdateTask(ctx context.Context, id string, upd crm.TaskUpdate) (crm.Task, error) {
	var (
		setClauses []string
		args       []any
		idx        = 1
	)
	if upd.Title != nil {
		setClauses = append(setClauses, fmt.Sprintf("title = $%d", idx))
		args = append(args, *upd.Title)
		idx++
	}
	if upd.Done != nil {
		setClauses = append(setClauses, fmt.Sprintf("done = $%d", idx))
		args = append(args, *upd.Done)
		idx++
	}
	if len(setClauses) > 0 {
		query := fmt.Sprintf(`update tasks set %s where id = $%d`, strings.Join(setClauses, ", "), idx)
		args = append(args, id)
		res, err := s.db.ExecContext(ctx, query, args...)
		if err != nil {
			return crm.Task{}, err
		}
		if aff, err := res.RowsAffected(); err == nil && aff == 0 {
			return crm.Task{}, fmt.Errorf("%w: task %s", crm.ErrNotFound, id)
		}
	}
	return s.GetTask(ctx, id)
}

func (s *Store) DeleteTask(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `delete from subtasks where task_id = $1`, id); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `delete from tasks where id = $1`, id)
	if err != nil {
		return err
	}
	if aff, err := res.RowsAffected(); err == nil && aff == 0 {
		return fmt.Errorf("%w: task %s", crm.ErrNotFound, id)
	}
	return tx.Commit()
}

func (s *Store) CreateSubtask(ctx context.Context, st *crm.Subtask) error {
	_, err := s.db.ExecContext(ctx, `
		insert into subtasks (id, task_id, title, done, created_at)
		values ($1, $2, $3, $4, $5)
	`, st.ID, st.TaskID, st.Title, st.Done, st.CreatedAt)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrForeignKeyViolation {
			return fmt.Errorf("%w: task %s", crm.ErrNotFound, st.TaskID)
		}
		return err
	}
	return nil
}

func (s *Store) GetSubtask(ctx context.Context, id string) (crm.Subtask, error) {
	var st crm.Subtask
	err := s.db.QueryRowContext(ctx, `
		select id, task_id, title, done, created_at from subtasks where id = $1
	`, id).Scan(&st.ID, &st.TaskID, &st.Title, &st.Done, &st.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return crm.Subtask{}, fmt.Errorf("%w: subtask %s", crm.ErrNotFound, id)
	}
	return st, err
}

func (s *Store) ListSubtasks(ctx context.Context, taskID string) ([]crm.Subtask, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, task_id, title, done, created_at from subtasks where task_id = $1 order by created_at
	`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []crm.Subtask
	for rows.Next() {
		var st crm.Subtask
		if err := rows.Scan(&st.ID, &st.TaskID, &st.Title, &st.Done, &st.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, st)
	}
	return result, rows.Err()
}

func (s *Store) UpdateSubtask(ctx context.Context, id string, upd crm.SubtaskUpdate) (crm.Subtask, error) {
	var (
		setClauses []string
		args       []any
		idx        = 1
	)
	if upd.Title != nil {
		setClauses = append(setClauses, fmt.Sprintf("title = $%d", idx))
		args = append(args, *upd.Title)
		idx++
	}
	if upd.Done != nil {
		setClauses = append(setClauses, fmt.Sprintf("done = $%d", idx))
		args = append(args, *upd.Done)
		idx++
	}
	if len(setClauses) > 0 {
		query := fmt.Sprintf(`update subtasks set %s where id = $%d`, strings.Join(setClauses, ", "), idx)
		args = append(args, id)
		res, err := s.db.ExecContext(ctx, query, args...)
		if err != nil {
			return crm.Subtask{}, err
		}
		if aff, err := res.RowsAffected(); err == nil && aff == 0 {
			return crm.Subtask{}, fmt.Errorf("%w: subtask %s", crm.ErrNotFound, id)
		}
	}
	return s.GetSubtask(ctx, id)
}

func (s *Store) DeleteSubtask(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `delete from subtasks where id = $1`, id)
	if err != nil {
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return fmt.Errorf("%w: subtask %s", crm.ErrNotFound, id)
	}
	return nil
}

func (s *Store) Stats(ctx context.Context) (crm.Stats, error) {
	stats := crm.Stats{DealsByStage: map[string]int{}}
	err := s.db.QueryRowContext(ctx, `
		select
			(select count(*) from users),
			(select count(*) from teams),
			(select count(*) from deals),
			(select count(*) from tasks)
	`).Scan(&stats.Users, &stats.Teams, &stats.Deals, &stats.Tasks)
	if err != nil {
		return crm.Stats{}, err
	}

	rows, err := s.db.QueryContext(ctx, `select stage, count(*) from deals group by stage`)
	if err != nil {
		return crm.Stats{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			stage string
			n     int
		)
		if err := rows.Scan(&stage, &n); err != nil {
			return crm.Stats{}, err
		}
		stats.DealsByStage[stage] = n
	}
	return stats, rows.Err()
}

// --- helpers ---

func maybePgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}

func nullIfEmpty(s string) sql.NullString {
	s = strings.TrimSpace(s)
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
