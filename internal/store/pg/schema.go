package pg

import "context"

// schema is applied on startup. Statements are idempotent so repeated boots
// against the same database are safe.
var schema = []string{
	`create table if not exists users (
		id text primary key,
		email text not null unique,
		name text not null,
		role text not null,
		auth_type text not null default 'password',
		password_hash text not null default '',
		is_active boolean not null default true,
		created_at timestamptz not null default now(),
		updated_at timestamptz not null default now()
	)`,
	`create table if not exists teams (
		id text primary key,
		name text not null,
		created_at timestamptz not null default now(),
		updated_at timestamptz not null default now()
	)`,
	`create table if not exists team_members (
		team_id text not null references teams(id) on delete cascade,
		user_id text not null references users(id) on delete cascade,
		primary key (team_id, user_id)
	)`,
	`create table if not exists deals (
		id text primary key,
		title text not null,
		stage text not null default 'LEAD',
		amount bigint not null default 0,
		owner_id text not null references users(id),
		assigned_to_id text references users(id),
		team_id text references teams(id),
		created_at timestamptz not null default now(),
		updated_at timestamptz not null default now()
	)`,
	`create index if not exists deals_owner_idx on deals(owner_id)`,
	`create index if not exists deals_assigned_idx on deals(assigned_to_id)`,
	`create index if not exists deals_team_idx on deals(team_id)`,
	`create table if not exists tasks (
		id text primary key,
		deal_id text not null references deals(id) on delete cascade,
		title text not null,
		done boolean not null default false,
		created_at timestamptz not null default now()
	)`,
	`create index if not exists tasks_deal_idx on tasks(deal_id)`,
	`create table if not exists subtasks (
		id text primary key,
		task_id text not null references tasks(id) on delete cascade,
		title text not null,
		done boolean not null default false,
		created_at timestamptz not null default now()
	)`,
	`create index if not exists subtasks_task_idx on subtasks(task_id)`,
}

// EnsureSchema creates missing tables and indexes.
func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
