package crm

import (
	"context"
	"errors"
	"testing"

	"dealdesk.org/internal/auth"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	svc, err := NewService(NewInMemory())
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc
}

func mustCreateUser(t *testing.T, svc *Service, email string, role auth.Role) User {
	t.Helper()
	u, err := svc.CreateUser(context.Background(), email, "Test User", "s3cret-pass", role)
	if err != nil {
		t.Fatalf("CreateUser(%s): %v", email, err)
	}
	return u
}

func TestCreateUserValidation(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	if _, err := svc.CreateUser(ctx, "not-an-email", "A", "s3cret-pass", auth.RoleAdmin); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected invalid input for bad email, got %v", err)
	}
	if _, err := svc.CreateUser(ctx, "a@b.com", "A", "short", auth.RoleAdmin); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected invalid input for short password, got %v", err)
	}
	if _, err := svc.CreateUser(ctx, "a@b.com", "A", "s3cret-pass", auth.Role("SALES_REP")); !errors.Is(err, auth.ErrUnknownRole) {
		t.Fatalf("expected unknown role, got %v", err)
	}

	u := mustCreateUser(t, svc, "a@b.com", auth.RoleSalesDirector)
	if !u.IsActive || u.PasswordHash == "" || u.PasswordHash == "s3cret-pass" {
		t.Fatalf("unexpected created user: %+v", u)
	}
	if _, err := svc.CreateUser(ctx, "A@B.com", "Dup", "s3cret-pass", auth.RoleSalesDirector); !errors.Is(err, ErrConflict) {
		t.Fatalf("duplicate email must conflict, got %v", err)
	}
}

func TestAuthenticateCollapsesFailures(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	u := mustCreateUser(t, svc, "dir@corp.com", auth.RoleSalesDirector)

	if got, err := svc.Authenticate(ctx, "DIR@corp.com", "s3cret-pass"); err != nil || got.ID != u.ID {
		t.Fatalf("expected successful login, got %v / %v", got, err)
	}
	if _, err := svc.Authenticate(ctx, "dir@corp.com", "wrong-pass"); !errors.Is(err, auth.ErrUnauthorized) {
		t.Fatalf("bad password must be unauthorized, got %v", err)
	}
	if _, err := svc.Authenticate(ctx, "ghost@corp.com", "s3cret-pass"); !errors.Is(err, auth.ErrUnauthorized) {
		t.Fatalf("unknown address must be unauthorized, got %v", err)
	}

	if _, err := svc.DeleteUser(ctx, u.ID, DeleteSoft, ""); err != nil {
		t.Fatalf("soft delete: %v", err)
	}
	if _, err := svc.Authenticate(ctx, "dir@corp.com", "s3cret-pass"); !errors.Is(err, auth.ErrUnauthorized) {
		t.Fatalf("deactivated account must be unauthorized, got %v", err)
	}
}

func TestDeleteUserSoftKeepsRecords(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	u := mustCreateUser(t, svc, "dir@corp.com", auth.RoleSalesDirector)
	deal, err := svc.CreateDeal(ctx, u.ID, "Acme renewal", "", 1000, "", "")
	if err != nil {
		t.Fatalf("CreateDeal: %v", err)
	}

	res, err := svc.DeleteUser(ctx, u.ID, DeleteSoft, "")
	if err != nil {
		t.Fatalf("DeleteUser: %v", err)
	}
	if res.Mode != DeleteSoft || res.Dependencies.OwnedDeals != 1 {
		t.Fatalf("unexpected result: %+v", res)
	}
	got, err := svc.GetUser(ctx, u.ID)
	if err != nil || got.IsActive {
		t.Fatalf("soft delete must keep a deactivated row, got %+v / %v", got, err)
	}
	if _, err := svc.GetDeal(ctx, deal.ID); err != nil {
		t.Fatalf("soft delete must keep deals: %v", err)
	}

	if re, err := svc.ReactivateUser(ctx, u.ID); err != nil || !re.IsActive {
		t.Fatalf("reactivate: %+v / %v", re, err)
	}
}

func TestDeleteUserReassignMovesDeals(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	from := mustCreateUser(t, svc, "leaving@corp.com", auth.RoleSalesDirector)
	to := mustCreateUser(t, svc, "staying@corp.com", auth.RoleSalesDirector)
	team, err := svc.CreateTeam(ctx, "West", []string{from.ID, to.ID})
	if err != nil {
		t.Fatalf("CreateTeam: %v", err)
	}
	deal, err := svc.CreateDeal(ctx, from.ID, "Acme renewal", "", 1000, "", team.ID)
	if err != nil {
		t.Fatalf("CreateDeal: %v", err)
	}

	res, err := svc.DeleteUser(ctx, from.ID, DeleteReassign, to.ID)
	if err != nil {
		t.Fatalf("DeleteUser: %v", err)
	}
	if res.ReassignedTo != to.ID {
		t.Fatalf("unexpected result: %+v", res)
	}
	if _, err := svc.GetUser(ctx, from.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("user row must be gone, got %v", err)
	}
	got, err := svc.GetDeal(ctx, deal.ID)
	if err != nil || got.OwnerID != to.ID {
		t.Fatalf("deal must be reassigned, got %+v / %v", got, err)
	}
	gotTeam, err := svc.GetTeam(ctx, team.ID)
	if err != nil {
		t.Fatalf("GetTeam: %v", err)
	}
	if len(gotTeam.MemberIDs) != 1 || gotTeam.MemberIDs[0] != to.ID {
		t.Fatalf("membership must be dropped, got %v", gotTeam.MemberIDs)
	}
}

func TestDeleteUserReassignValidatesTarget(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	u := mustCreateUser(t, svc, "leaving@corp.com", auth.RoleSalesDirector)

	if _, err := svc.DeleteUser(ctx, u.ID, DeleteReassign, ""); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("missing target must fail, got %v", err)
	}
	if _, err := svc.DeleteUser(ctx, u.ID, DeleteReassign, u.ID); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("self target must fail, got %v", err)
	}
	if _, err := svc.DeleteUser(ctx, u.ID, DeleteReassign, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown target must fail, got %v", err)
	}
	if _, err := svc.GetUser(ctx, u.ID); err != nil {
		t.Fatalf("failed workflow must leave the user intact: %v", err)
	}
}

func TestDeleteUserHardCascades(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	u := mustCreateUser(t, svc, "leaving@corp.com", auth.RoleSalesDirector)
	deal, err := svc.CreateDeal(ctx, u.ID, "Acme renewal", "", 1000, "", "")
	if err != nil {
		t.Fatalf("CreateDeal: %v", err)
	}
	task, err := svc.CreateTask(ctx, deal.ID, "Send quote")
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if _, err := svc.CreateSubtask(ctx, task.ID, "Draft pricing"); err != nil {
		t.Fatalf("CreateSubtask: %v", err)
	}

	if _, err := svc.DeleteUser(ctx, u.ID, DeleteHard, ""); err != nil {
		t.Fatalf("DeleteUser: %v", err)
	}
	if _, err := svc.GetUser(ctx, u.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("user must be gone, got %v", err)
	}
	if _, err := svc.GetDeal(ctx, deal.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("owned deal must be gone, got %v", err)
	}
	if _, err := svc.GetTask(ctx, task.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("task must be gone, got %v", err)
	}
}

func TestDeleteUserUnknownMode(t *testing.T) {
	svc := newTestService(t)
	u := mustCreateUser(t, svc, "x@corp.com", auth.RoleSalesDirector)
	if _, err := svc.DeleteUser(context.Background(), u.ID, DeleteMode("purge"), ""); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("unknown mode must fail, got %v", err)
	}
}

func TestParseDeleteMode(t *testing.T) {
	if m, err := ParseDeleteMode(""); err != nil || m != DeleteSoft {
		t.Fatalf("empty mode must default to soft, got %v / %v", m, err)
	}
	if m, err := ParseDeleteMode(" HARD "); err != nil || m != DeleteHard {
		t.Fatalf("case and spacing must not matter, got %v / %v", m, err)
	}
	if _, err := ParseDeleteMode("purge"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("unknown mode must fail, got %v", err)
	}
}

func TestScopeForByRole(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	arch := mustCreateUser(t, svc, "arch@corp.com", auth.RoleSolutionsArchitect)
	team, err := svc.CreateTeam(ctx, "West", []string{arch.ID})
	if err != nil {
		t.Fatalf("CreateTeam: %v", err)
	}

	scope, err := svc.ScopeFor(ctx, auth.Identity{SubjectID: "admin-1", Role: auth.RoleAdmin})
	if err != nil || !scope.All {
		t.Fatalf("admin scope must be unrestricted, got %+v / %v", scope, err)
	}

	scope, err = svc.ScopeFor(ctx, auth.Identity{SubjectID: arch.ID, Role: auth.RoleSolutionsArchitect})
	if err != nil {
		t.Fatalf("ScopeFor: %v", err)
	}
	if scope.All || scope.UserID != arch.ID || len(scope.TeamIDs) != 1 || scope.TeamIDs[0] != team.ID {
		t.Fatalf("unexpected architect scope: %+v", scope)
	}

	scope, err = svc.ScopeFor(ctx, auth.Identity{SubjectID: "dir-1", Role: auth.RoleSalesDirector})
	if err != nil || scope.All || len(scope.TeamIDs) != 0 || scope.UserID != "dir-1" {
		t.Fatalf("unexpected director scope: %+v / %v", scope, err)
	}
}

func TestListDealsAppliesScope(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	dir := mustCreateUser(t, svc, "dir@corp.com", auth.RoleSalesDirector)
	other := mustCreateUser(t, svc, "other@corp.com", auth.RoleSalesDirector)

	mine, err := svc.CreateDeal(ctx, dir.ID, "Mine", "", 100, "", "")
	if err != nil {
		t.Fatalf("CreateDeal: %v", err)
	}
	if _, err := svc.CreateDeal(ctx, other.ID, "Foreign", "", 100, "", ""); err != nil {
		t.Fatalf("CreateDeal: %v", err)
	}
	assigned, err := svc.CreateDeal(ctx, other.ID, "Assigned to me", "", 100, dir.ID, "")
	if err != nil {
		t.Fatalf("CreateDeal: %v", err)
	}

	deals, err := svc.ListDeals(ctx, DealScope{UserID: dir.ID})
	if err != nil {
		t.Fatalf("ListDeals: %v", err)
	}
	if len(deals) != 2 {
		t.Fatalf("expected owned+assigned deals only, got %d", len(deals))
	}
	seen := map[string]bool{}
	for _, d := range deals {
		seen[d.ID] = true
	}
	if !seen[mine.ID] || !seen[assigned.ID] {
		t.Fatalf("wrong deals in scope: %v", seen)
	}

	all, err := svc.ListDeals(ctx, DealScope{All: true})
	if err != nil || len(all) != 3 {
		t.Fatalf("admin scope must return everything, got %d / %v", len(all), err)
	}
}

func TestCanAccessDeal(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	dir := mustCreateUser(t, svc, "dir@corp.com", auth.RoleSalesDirector)
	arch := mustCreateUser(t, svc, "arch@corp.com", auth.RoleSolutionsArchitect)
	outsider := mustCreateUser(t, svc, "out@corp.com", auth.RoleSolutionsArchitect)
	team, err := svc.CreateTeam(ctx, "West", []string{arch.ID})
	if err != nil {
		t.Fatalf("CreateTeam: %v", err)
	}
	deal, err := svc.CreateDeal(ctx, dir.ID, "Acme renewal", "", 1000, "", team.ID)
	if err != nil {
		t.Fatalf("CreateDeal: %v", err)
	}

	cases := []struct {
		name  string
		ident auth.Identity
		want  bool
	}{
		{"owner", auth.Identity{SubjectID: dir.ID, Role: auth.RoleSalesDirector}, true},
		{"team architect", auth.Identity{SubjectID: arch.ID, Role: auth.RoleSolutionsArchitect}, true},
		{"outside architect", auth.Identity{SubjectID: outsider.ID, Role: auth.RoleSolutionsArchitect}, false},
		{"admin", auth.Identity{SubjectID: "admin-1", Role: auth.RoleAdmin}, true},
		{"foreign director", auth.Identity{SubjectID: "dir-2", Role: auth.RoleSalesDirector}, false},
	}
	for _, tc := range cases {
		ok, err := svc.CanAccessDeal(ctx, tc.ident, deal.ID)
		if err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		if ok != tc.want {
			t.Fatalf("%s: got %v, want %v", tc.name, ok, tc.want)
		}
	}

	if _, err := svc.CanAccessDeal(ctx, cases[0].ident, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing deal must be not found, got %v", err)
	}
}

func TestDeleteDealCascades(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	dir := mustCreateUser(t, svc, "dir@corp.com", auth.RoleSalesDirector)
	deal, err := svc.CreateDeal(ctx, dir.ID, "Acme renewal", "", 1000, "", "")
	if err != nil {
		t.Fatalf("CreateDeal: %v", err)
	}
	task, err := svc.CreateTask(ctx, deal.ID, "Send quote")
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	sub, err := svc.CreateSubtask(ctx, task.ID, "Draft pricing")
	if err != nil {
		t.Fatalf("CreateSubtask: %v", err)
	}

	if err := svc.DeleteDeal(ctx, deal.ID); err != nil {
		t.Fatalf("DeleteDeal: %v", err)
	}
	if _, err := svc.GetTask(ctx, task.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("task must be gone, got %v", err)
	}
	if _, err := svc.SubtaskDealID(ctx, sub.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("subtask must be gone, got %v", err)
	}
}

func TestCreateTeamRejectsUnknownMembers(t *testing.T) {
	svc := newTestService(t)
	if _, err := svc.CreateTeam(context.Background(), "West", []string{"ghost"}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("unknown member must fail, got %v", err)
	}
}

func TestStatsCountsByStage(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	dir := mustCreateUser(t, svc, "dir@corp.com", auth.RoleSalesDirector)
	if _, err := svc.CreateDeal(ctx, dir.ID, "One", "LEAD", 1, "", ""); err != nil {
		t.Fatalf("CreateDeal: %v", err)
	}
	if _, err := svc.CreateDeal(ctx, dir.ID, "Two", "WON", 2, "", ""); err != nil {
		t.Fatalf("CreateDeal: %v", err)
	}

	stats, err := svc.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Deals != 2 || stats.Users != 1 || stats.DealsByStage["WON"] != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}
