package auth

import (
	"fmt"
	"math/rand"
	"testing"
)

func TestAdminAlwaysAllowed(t *testing.T) {
	ident := Identity{SubjectID: "admin-1", Role: RoleAdmin}
	if !CanAccessDeal(ident, Ownership{OwnerID: "someone-else"}, false) {
		t.Fatalf("admin must access every deal")
	}
}

func TestSalesDirectorOwnershipProperty(t *testing.T) {
	// The director rule must hold for arbitrary descriptor/identity pairs:
	// allowed iff subject is owner or assignee.
	rng := rand.New(rand.NewSource(42))
	ids := []string{"u1", "u2", "u3", "u4", "u5"}

	for i := 0; i < 500; i++ {
		subject := ids[rng.Intn(len(ids))]
		own := Ownership{OwnerID: ids[rng.Intn(len(ids))]}
		if rng.Intn(2) == 0 {
			own.AssignedToID = ids[rng.Intn(len(ids))]
		}
		if rng.Intn(3) == 0 {
			own.TeamID = fmt.Sprintf("t%d", rng.Intn(3))
		}

		ident := Identity{SubjectID: subject, Role: RoleSalesDirector}
		want := subject == own.OwnerID || (own.AssignedToID != "" && subject == own.AssignedToID)
		// Membership must never influence a director's access.
		for _, member := range []bool{false, true} {
			if got := CanAccessDeal(ident, own, member); got != want {
				t.Fatalf("director access=%v, want %v (subject=%s own=%+v member=%v)",
					got, want, subject, own, member)
			}
		}
	}
}

func TestArchitectRequiresMembership(t *testing.T) {
	ident := Identity{SubjectID: "arch-1", Role: RoleSolutionsArchitect}
	own := Ownership{OwnerID: "other", TeamID: "team-1"}

	if CanAccessDeal(ident, own, false) {
		t.Fatalf("architect without membership must be denied")
	}
	if !CanAccessDeal(ident, own, true) {
		t.Fatalf("architect with membership must be allowed")
	}
}

func TestArchitectNoTeamFallsBackToOwnership(t *testing.T) {
	ident := Identity{SubjectID: "arch-1", Role: RoleSolutionsArchitect}

	if CanAccessDeal(ident, Ownership{OwnerID: "other"}, true) {
		t.Fatalf("teamless deal owned by someone else must be denied")
	}
	if !CanAccessDeal(ident, Ownership{OwnerID: "arch-1"}, false) {
		t.Fatalf("architect must access their own teamless deal")
	}
	if !CanAccessDeal(ident, Ownership{OwnerID: "other", AssignedToID: "arch-1"}, false) {
		t.Fatalf("architect must access a teamless deal assigned to them")
	}
}

func TestUnknownRoleDenied(t *testing.T) {
	ident := Identity{SubjectID: "u1", Role: "SALES_REP"}
	if CanAccessDeal(ident, Ownership{OwnerID: "u1"}, true) {
		t.Fatalf("unknown role must be denied even for owned deals")
	}
}

func TestManagePredicates(t *testing.T) {
	if !CanManageUsers(RoleAdmin) || !CanManageTeams(RoleAdmin) {
		t.Fatalf("admin must manage users and teams")
	}
	for _, r := range []Role{RoleSolutionsArchitect, RoleSalesDirector, Role("SALES_REP")} {
		if CanManageUsers(r) || CanManageTeams(r) {
			t.Fatalf("%s must not manage users or teams", r)
		}
	}
}

func TestEmptyAssigneeNeverMatchesEmptySubject(t *testing.T) {
	ident := Identity{SubjectID: "", Role: RoleSalesDirector}
	if CanAccessDeal(ident, Ownership{OwnerID: ""}, false) {
		t.Fatalf("empty subject must never match")
	}
}
