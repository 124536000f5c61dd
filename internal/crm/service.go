package crm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"dealdesk.org/internal/auth"
	"dealdesk.org/internal/ids"
)

// DeleteMode selects the branch of the user deletion workflow.
type DeleteMode string

const (
	// DeleteSoft deactivates the account and keeps every record in place.
	DeleteSoft DeleteMode = "soft"
	// DeleteReassign moves the user's deals to another user, then removes
	// the account.
	DeleteReassign DeleteMode = "reassign"
	// DeleteHard removes the account and everything that references it.
	DeleteHard DeleteMode = "hard"
)

// ParseDeleteMode validates a client-supplied mode. The empty string maps
// to soft deletion, the safest default.
func ParseDeleteMode(s string) (DeleteMode, error) {
	switch DeleteMode(strings.ToLower(strings.TrimSpace(s))) {
	case "", DeleteSoft:
		return DeleteSoft, nil
	case DeleteReassign:
		return DeleteReassign, nil
	case DeleteHard:
		return DeleteHard, nil
	default:
		return "", fmt.Errorf("%w: unknown delete mode %q", ErrInvalidInput, s)
	}
}

// DeletionResult reports what the workflow actually did.
type DeletionResult struct {
	UserID       string       `json:"user_id"`
	Mode         DeleteMode   `json:"mode"`
	Dependencies Dependencies `json:"-"`
	ReassignedTo string       `json:"reassigned_to,omitempty"`
}

// Service validates inputs and enforces domain rules before touching the
// store. Handlers never reach past it.
type Service struct {
	store Store
	now   func() time.Time
}

// ServiceOption customizes a Service.
type ServiceOption func(*Service)

// WithServiceClock overrides the time source, used in tests.
func WithServiceClock(now func() time.Time) ServiceOption {
	return func(s *Service) { s.now = now }
}

func NewService(store Store, opts ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, errors.New("crm: store is required")
	}
	s := &Service{store: store, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Users.

func (s *Service) CreateUser(ctx context.Context, email, name, password string, role auth.Role) (User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	name = strings.TrimSpace(name)
	if email == "" || !strings.Contains(email, "@") {
		return User{}, fmt.Errorf("%w: email is required", ErrInvalidInput)
	}
	if name == "" {
		return User{}, fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	if !role.Valid() {
		return User{}, fmt.Errorf("%w: %q", auth.ErrUnknownRole, role)
	}
	if len(password) < 8 {
		return User{}, fmt.Errorf("%w: password must be at least 8 characters", ErrInvalidInput)
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return User{}, fmt.Errorf("hash password: %w", err)
	}
	nowTS := s.now().UTC()
	u := User{
		ID:           ids.New(),
		Email:        email,
		Name:         name,
		Role:         role,
		AuthType:     AuthTypePassword,
		PasswordHash: hash,
		IsActive:     true,
		CreatedAt:    nowTS,
		UpdatedAt:    nowTS,
	}
	if err := s.store.CreateUser(ctx, &u); err != nil {
		return User{}, err
	}
	return u, nil
}

// Authenticate resolves login credentials to an active account. Every
// failure collapses to ErrUnauthorized so responses cannot reveal whether
// the address exists.
func (s *Service) Authenticate(ctx context.Context, email, password string) (User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	u, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		return User{}, auth.ErrUnauthorized
	}
	if !u.IsActive || u.AuthType != AuthTypePassword {
		return User{}, auth.ErrUnauthorized
	}
	if err := auth.VerifyPassword(u.PasswordHash, password); err != nil {
		return User{}, auth.ErrUnauthorized
	}
	return u, nil
}

func (s *Service) GetUser(ctx context.Context, id string) (User, error) {
	return s.store.GetUser(ctx, id)
}

func (s *Service) ListUsers(ctx context.Context) ([]User, error) {
	return s.store.ListUsers(ctx)
}

func (s *Service) UpdateUser(ctx context.Context, id string, upd UserUpdate) (User, error) {
	if upd.Email != nil {
		email := strings.ToLower(strings.TrimSpace(*upd.Email))
		if email == "" || !strings.Contains(email, "@") {
			return User{}, fmt.Errorf("%w: email is required", ErrInvalidInput)
		}
		*upd.Email = email
	}
	if upd.Role != nil && !upd.Role.Valid() {
		return User{}, fmt.Errorf("%w: %q", auth.ErrUnknownRole, *upd.Role)
	}
	if upd.Password != nil {
		if len(*upd.Password) < 8 {
			return User{}, fmt.Errorf("%w: password must be at least 8 characters", ErrInvalidInput)
		}
		hash, err := auth.HashPassword(*upd.Password)
		if err != nil {
			return User{}, fmt.Errorf("hash password: %w", err)
		}
		*upd.Password = hash
	}
	return s.store.UpdateUser(ctx, id, upd)
}

// ReactivateUser undoes a soft deletion.
func (s *Service) ReactivateUser(ctx context.Context, id string) (User, error) {
	if err := s.store.SetUserActive(ctx, id, true); err != nil {
		return User{}, err
	}
	return s.store.GetUser(ctx, id)
}

// DeleteUser runs the deletion workflow: resolve the account, count its
// dependent records, then apply the requested branch. A failure at any step
// aborts the workflow and surfaces the step that failed; callers must never
// report success past a partial run.
func (s *Service) DeleteUser(ctx context.Context, id string, mode DeleteMode, reassignTo string) (DeletionResult, error) {
	if _, err := s.store.GetUser(ctx, id); err != nil {
		return DeletionResult{}, err
	}
	deps, err := s.store.UserDependencies(ctx, id)
	if err != nil {
		return DeletionResult{}, fmt.Errorf("dependency check: %w", err)
	}
	res := DeletionResult{UserID: id, Mode: mode, Dependencies: deps}

	switch mode {
	case DeleteSoft:
		if err := s.store.SetUserActive(ctx, id, false); err != nil {
			return DeletionResult{}, fmt.Errorf("deactivate user: %w", err)
		}

	case DeleteReassign:
		reassignTo = strings.TrimSpace(reassignTo)
		if reassignTo == "" {
			return DeletionResult{}, fmt.Errorf("%w: reassign target is required", ErrInvalidInput)
		}
		if reassignTo == id {
			return DeletionResult{}, fmt.Errorf("%w: cannot reassign records to the deleted user", ErrInvalidInput)
		}
		target, err := s.store.GetUser(ctx, reassignTo)
		if err != nil {
			return DeletionResult{}, fmt.Errorf("resolve reassign target: %w", err)
		}
		if !target.IsActive {
			return DeletionResult{}, fmt.Errorf("%w: reassign target is inactive", ErrInvalidInput)
		}
		if err := s.store.ReassignUserRecords(ctx, id, reassignTo); err != nil {
			return DeletionResult{}, fmt.Errorf("reassign records: %w", err)
		}
		if err := s.store.RemoveUserFromTeams(ctx, id); err != nil {
			return DeletionResult{}, fmt.Errorf("remove team memberships: %w", err)
		}
		if err := s.store.DeleteUserRow(ctx, id); err != nil {
			return DeletionResult{}, fmt.Errorf("delete user: %w", err)
		}
		res.ReassignedTo = reassignTo

	case DeleteHard:
		if deps.Empty() {
			if err := s.store.DeleteUserRow(ctx, id); err != nil {
				return DeletionResult{}, fmt.Errorf("delete user: %w", err)
			}
			break
		}
		if err := s.store.DeleteUserCascade(ctx, id); err != nil {
			return DeletionResult{}, fmt.Errorf("cascade delete: %w", err)
		}

	default:
		return DeletionResult{}, fmt.Errorf("%w: unknown delete mode %q", ErrInvalidInput, mode)
	}
	return res, nil
}

// Teams.

func (s *Service) CreateTeam(ctx context.Context, name string, memberIDs []string) (Team, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Team{}, fmt.Errorf("%w: team name is required", ErrInvalidInput)
	}
	members, err := s.dedupeMembers(ctx, memberIDs)
	if err != nil {
		return Team{}, err
	}
	nowTS := s.now().UTC()
	t := Team{
		ID:        ids.New(),
		Name:      name,
		MemberIDs: members,
		CreatedAt: nowTS,
		UpdatedAt: nowTS,
	}
	if err := s.store.CreateTeam(ctx, &t); err != nil {
		return Team{}, err
	}
	return t, nil
}

func (s *Service) GetTeam(ctx context.Context, id string) (Team, error) {
	return s.store.GetTeam(ctx, id)
}

func (s *Service) ListTeams(ctx context.Context) ([]Team, error) {
	return s.store.ListTeams(ctx)
}

func (s *Service) UpdateTeam(ctx context.Context, id string, upd TeamUpdate) (Team, error) {
	if upd.Name != nil && strings.TrimSpace(*upd.Name) == "" {
		return Team{}, fmt.Errorf("%w: team name is required", ErrInvalidInput)
	}
	if upd.MemberIDs != nil {
		members, err := s.dedupeMembers(ctx, *upd.MemberIDs)
		if err != nil {
			return Team{}, err
		}
		*upd.MemberIDs = members
	}
	return s.store.UpdateTeam(ctx, id, upd)
}

func (s *Service) DeleteTeam(ctx context.Context, id string) error {
	return s.store.DeleteTeam(ctx, id)
}

func (s *Service) dedupeMembers(ctx context.Context, memberIDs []string) ([]string, error) {
	seen := make(map[string]struct{}, len(memberIDs))
	members := make([]string, 0, len(memberIDs))
	for _, id := range memberIDs {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		if _, err := s.store.GetUser(ctx, id); err != nil {
			if errors.Is(err, ErrNotFound) {
				return nil, fmt.Errorf("%w: unknown member %q", ErrInvalidInput, id)
			}
			return nil, err
		}
		seen[id] = struct{}{}
		members = append(members, id)
	}
	return members, nil
}

// Deals.

func (s *Service) CreateDeal(ctx context.Context, ownerID, title, stage string, amount int64, assignedToID, teamID string) (Deal, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return Deal{}, fmt.Errorf("%w: deal title is required", ErrInvalidInput)
	}
	if amount < 0 {
		return Deal{}, fmt.Errorf("%w: amount cannot be negative", ErrInvalidInput)
	}
	if stage = strings.TrimSpace(stage); stage == "" {
		stage = "LEAD"
	}
	if assignedToID != "" {
		if _, err := s.store.GetUser(ctx, assignedToID); err != nil {
			if errors.Is(err, ErrNotFound) {
				return Deal{}, fmt.Errorf("%w: unknown assignee %q", ErrInvalidInput, assignedToID)
			}
			return Deal{}, err
		}
	}
	if teamID != "" {
		if _, err := s.store.GetTeam(ctx, teamID); err != nil {
			if errors.Is(err, ErrNotFound) {
				return Deal{}, fmt.Errorf("%w: unknown team %q", ErrInvalidInput, teamID)
			}
			return Deal{}, err
		}
	}
	nowTS := s.now().UTC()
	d := Deal{
		ID:           ids.New(),
		Title:        title,
		Stage:        stage,
		Amount:       amount,
		OwnerID:      ownerID,
		AssignedToID: assignedToID,
		TeamID:       teamID,
		CreatedAt:    nowTS,
		UpdatedAt:    nowTS,
	}
	if err := s.store.CreateDeal(ctx, &d); err != nil {
		return Deal{}, err
	}
	return d, nil
}

func (s *Service) GetDeal(ctx context.Context, id string) (Deal, error) {
	return s.store.GetDeal(ctx, id)
}

func (s *Service) ListDeals(ctx context.Context, scope DealScope) ([]Deal, error) {
	return s.store.ListDeals(ctx, scope)
}

func (s *Service) UpdateDeal(ctx context.Context, id string, upd DealUpdate) (Deal, error) {
	if upd.Title != nil && strings.TrimSpace(*upd.Title) == "" {
		return Deal{}, fmt.Errorf("%w: deal title is required", ErrInvalidInput)
	}
	if upd.Amount != nil && *upd.Amount < 0 {
		return Deal{}, fmt.Errorf("%w: amount cannot be negative", ErrInvalidInput)
	}
	return s.store.UpdateDeal(ctx, id, upd)
}

func (s *Service) DeleteDeal(ctx context.Context, id string) error {
	return s.store.DeleteDeal(ctx, id)
}

// ScopeFor builds the deal list filter for an identity.
func (s *Service) ScopeFor(ctx context.Context, ident auth.Identity) (DealScope, error) {
	switch ident.Role {
	case auth.RoleAdmin:
		return DealScope{All: true}, nil
	case auth.RoleSolutionsArchitect:
		teamIDs, err := s.store.TeamsForUser(ctx, ident.SubjectID)
		if err != nil {
			return DealScope{}, err
		}
		return DealScope{UserID: ident.SubjectID, TeamIDs: teamIDs}, nil
	default:
		return DealScope{UserID: ident.SubjectID}, nil
	}
}

// CanAccessDeal answers single-deal access for an identity. A missing deal
// is reported as ErrNotFound rather than a denial.
func (s *Service) CanAccessDeal(ctx context.Context, ident auth.Identity, dealID string) (bool, error) {
	own, err := s.store.DealOwnership(ctx, dealID)
	if err != nil {
		return false, err
	}
	teamMember := false
	if ident.Role == auth.RoleSolutionsArchitect && own.TeamID != "" {
		teamMember, err = s.store.IsTeamMember(ctx, own.TeamID, ident.SubjectID)
		if err != nil {
			return false, err
		}
	}
	return auth.CanAccessDeal(ident, own, teamMember), nil
}

// Tasks and subtasks.

func (s *Service) CreateTask(ctx context.Context, dealID, title string) (Task, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return Task{}, fmt.Errorf("%w: task title is required", ErrInvalidInput)
	}
	if _, err := s.store.GetDeal(ctx, dealID); err != nil {
		return Task{}, err
	}
	t := Task{ID: ids.New(), DealID: dealID, Title: title, CreatedAt: s.now().UTC()}
	if err := s.store.CreateTask(ctx, &t); err != nil {
		return Task{}, err
	}
	return t, nil
}

func (s *Service) GetTask(ctx context.Context, id string) (Task, error) {
	return s.store.GetTask(ctx, id)
}

func (s *Service) ListTasks(ctx context.Context, dealID string) ([]Task, error) {
	if _, err := s.store.GetDeal(ctx, dealID); err != nil {
		return nil, err
	}
	return s.store.ListTasks(ctx, dealID)
}

func (s *Service) UpdateTask(ctx context.Context, id string, upd TaskUpdate) (Task, error) {
	if upd.Title != nil && strings.TrimSpace(*upd.Title) == "" {
		return Task{}, fmt.Errorf("%w: task title is required", ErrInvalidInput)
	}
	return s.store.UpdateTask(ctx, id, upd)
}

func (s *Service) DeleteTask(ctx context.Context, id string) error {
	return s.store.DeleteTask(ctx, id)
}

func (s *Service) CreateSubtask(ctx context.Context, taskID, title string) (Subtask, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return Subtask{}, fmt.Errorf("%w: subtask title is required", ErrInvalidInput)
	}
	if _, err := s.store.GetTask(ctx, taskID); err != nil {
		return Subtask{}, err
	}
	st := Subtask{ID: ids.New(), TaskID: taskID, Title: title, CreatedAt: s.now().UTC()}
	if err := s.store.CreateSubtask(ctx, &st); err != nil {
		return Subtask{}, err
	}
	return st, nil
}

func (s *Service) ListSubtasks(ctx context.Context, taskID string) ([]Subtask, error) {
	if _, err := s.store.GetTask(ctx, taskID); err != nil {
		return nil, err
	}
	return s.store.ListSubtasks(ctx, taskID)
}

func (s *Service) UpdateSubtask(ctx context.Context, id string, upd SubtaskUpdate) (Subtask, error) {
	if upd.Title != nil && strings.TrimSpace(*upd.Title) == "" {
		return Subtask{}, fmt.Errorf("%w: subtask title is required", ErrInvalidInput)
	}
	return s.store.UpdateSubtask(ctx, id, upd)
}

func (s *Service) DeleteSubtask(ctx context.Context, id string) error {
	return s.store.DeleteSubtask(ctx, id)
}

// TaskDealID resolves the owning deal of a task, for access checks.
func (s *Service) TaskDealID(ctx context.Context, taskID string) (string, error) {
	t, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return "", err
	}
	return t.DealID, nil
}

// SubtaskDealID resolves the owning deal of a subtask, for access checks.
func (s *Service) SubtaskDealID(ctx context.Context, subtaskID string) (string, error) {
	st, err := s.store.GetSubtask(ctx, subtaskID)
	if err != nil {
		return "", err
	}
	return s.TaskDealID(ctx, st.TaskID)
}

func (s *Service) Stats(ctx context.Context) (Stats, error) {
	return s.store.Stats(ctx)
}
