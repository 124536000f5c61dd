package pg

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"dealdesk.org/internal/crm"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return NewWithDB(db), mock
}

func TestGetUserNotFound(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(`select .+ from users where id`).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := s.GetUser(context.Background(), "missing")
	if !errors.Is(err, crm.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestGetUserScansRow(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now().UTC()
	rows := sqlmock.NewRows([]string{
		"id", "email", "name", "role", "auth_type", "password_hash", "is_active", "created_at", "updated_at",
	}).AddRow("u-1", "dir@corp.com", "Director", "SALES_DIRECTOR", "password", "hash", true, now, now)
	mock.ExpectQuery(`select .+ from users where id`).WithArgs("u-1").WillReturnRows(rows)

	u, err := s.GetUser(context.Background(), "u-1")
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if u.Email != "dir@corp.com" || string(u.Role) != "SALES_DIRECTOR" || !u.IsActive {
		t.Fatalf("unexpected user: %+v", u)
	}
}

func TestListDealsScopedQueryCarriesTeamIDs(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now().UTC()
	rows := sqlmock.NewRows([]string{
		"id", "title", "stage", "amount", "owner_id", "assigned_to_id", "team_id", "created_at", "updated_at",
	}).AddRow("d-1", "Acme", "LEAD", int64(100), "u-1", "", "t-1", now, now)
	mock.ExpectQuery(`select .+ from deals where \(owner_id = \$1 or assigned_to_id = \$1 or team_id in \(\$2\)\)`).
		WithArgs("u-1", "t-1").
		WillReturnRows(rows)

	deals, err := s.ListDeals(context.Background(), crm.DealScope{UserID: "u-1", TeamIDs: []string{"t-1"}})
	if err != nil {
		t.Fatalf("ListDeals: %v", err)
	}
	if len(deals) != 1 || deals[0].ID != "d-1" {
		t.Fatalf("unexpected deals: %+v", deals)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestListDealsAdminScopeSkipsFilter(t *testing.T) {
	s, mock := newMockStore(t)
	rows := sqlmock.NewRows([]string{
		"id", "title", "stage", "amount", "owner_id", "assigned_to_id", "team_id", "created_at", "updated_at",
	})
	mock.ExpectQuery(`select .+ from deals order by created_at desc`).WillReturnRows(rows)

	if _, err := s.ListDeals(context.Background(), crm.DealScope{All: true}); err != nil {
		t.Fatalf("ListDeals: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestDeleteUserCascadeRunsInOneTransaction(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec(`delete from subtasks where task_id in`).WithArgs("u-1").WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(`delete from tasks where deal_id in`).WithArgs("u-1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`delete from deals where owner_id`).WithArgs("u-1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`update deals set assigned_to_id = null`).WithArgs("u-1").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`delete from team_members where user_id`).WithArgs("u-1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`delete from users where id`).WithArgs("u-1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := s.DeleteUserCascade(context.Background(), "u-1"); err != nil {
		t.Fatalf("DeleteUserCascade: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestDeleteUserCascadeRollsBackOnFailure(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec(`delete from subtasks where task_id in`).WithArgs("u-1").WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	if err := s.DeleteUserCascade(context.Background(), "u-1"); err == nil {
		t.Fatal("expected error to surface")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestUserDependencies(t *testing.T) {
	s, mock := newMockStore(t)
	rows := sqlmock.NewRows([]string{"owned", "assigned", "memberships"}).AddRow(2, 1, 3)
	mock.ExpectQuery(`select`).WithArgs("u-1").WillReturnRows(rows)

	deps, err := s.UserDependencies(context.Background(), "u-1")
	if err != nil {
		t.Fatalf("UserDependencies: %v", err)
	}
	if deps.OwnedDeals != 2 || deps.AssignedDeals != 1 || deps.TeamMemberships != 3 {
		t.Fatalf("unexpected deps: %+v", deps)
	}
	if deps.Empty() {
		t.Fatal("deps must not report empty")
	}
}

func TestSetUserActiveNotFound(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec(`update users set is_active`).
		WithArgs("missing", false).
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := s.SetUserActive(context.Background(), "missing", false); !errors.Is(err, crm.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
