package crm

import (
	"time"

	"dealdesk.org/internal/auth"
)

// AuthType distinguishes credential-backed accounts from externally
// federated ones; only password accounts carry a hash.
const (
	AuthTypePassword = "password"
	AuthTypeSSO      = "sso"
)

// User is an account. PasswordHash never leaves the process.
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	Name         string    `json:"name"`
	Role         auth.Role `json:"role"`
	AuthType     string    `json:"auth_type"`
	PasswordHash string    `json:"-"`
	IsActive     bool      `json:"is_active"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Team groups users for deal scoping.
type Team struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	MemberIDs []string  `json:"member_ids"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Deal is the central tracked entity.
type Deal struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Stage        string    `json:"stage"`
	Amount       int64     `json:"amount"`
	OwnerID      string    `json:"owner_id"`
	AssignedToID string    `json:"assigned_to_id,omitempty"`
	TeamID       string    `json:"team_id,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Task belongs to a deal.
type Task struct {
	ID        string    `json:"id"`
	DealID    string    `json:"deal_id"`
	Title     string    `json:"title"`
	Done      bool      `json:"done"`
	CreatedAt time.Time `json:"created_at"`
}

// Subtask belongs to a task.
type Subtask struct {
	ID        string    `json:"id"`
	TaskID    string    `json:"task_id"`
	Title     string    `json:"title"`
	Done      bool      `json:"done"`
	CreatedAt time.Time `json:"created_at"`
}

// DealScope expresses role-aware list filtering so stores can apply it at
// the query level instead of post-filtering a full scan.
type DealScope struct {
	// All short-circuits the filter (admin).
	All bool
	// UserID matches deals owned by or assigned to the user.
	UserID string
	// TeamIDs additionally matches deals belonging to any of these teams
	// (architects).
	TeamIDs []string
}

// Matches reports whether a deal falls inside the scope.
func (s DealScope) Matches(d Deal) bool {
	if s.All {
		return true
	}
	if s.UserID != "" && (d.OwnerID == s.UserID || d.AssignedToID == s.UserID) {
		return true
	}
	for _, teamID := range s.TeamIDs {
		if d.TeamID != "" && d.TeamID == teamID {
			return true
		}
	}
	return false
}

// Stats is the admin analytics summary.
type Stats struct {
	Users        int            `json:"users"`
	Teams        int            `json:"teams"`
	Deals        int            `json:"deals"`
	Tasks        int            `json:"tasks"`
	DealsByStage map[string]int `json:"deals_by_stage"`
}

// Dependencies counts the records that hang off a user, gathered during the
// dependency-check step of the deletion workflow.
type Dependencies struct {
	OwnedDeals      int
	AssignedDeals   int
	TeamMemberships int
}

func (d Dependencies) Empty() bool {
	return d.OwnedDeals == 0 && d.AssignedDeals == 0 && d.TeamMemberships == 0
}

// Update structs carry optional field changes; nil means "leave as is".

type UserUpdate struct {
	Email    *string
	Name     *string
	Role     *auth.Role
	Password *string
}

type TeamUpdate struct {
	Name      *string
	MemberIDs *[]string
}

type DealUpdate struct {
	Title        *string
	Stage        *string
	Amount       *int64
	AssignedToID *string
	TeamID       *string
}

type TaskUpdate struct {
	Title *string
	Done  *bool
}

type SubtaskUpdate struct {
	Title *string
	Done  *bool
}
