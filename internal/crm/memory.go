package crm

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"dealdesk.org/internal/auth"
)

// InMemory is a map-backed Store used by tests and by local runs without a
// database. Every read hands out copies so callers cannot mutate shared
// state.
type InMemory struct {
	mu       sync.RWMutex
	users    map[string]User
	teams    map[string]Team
	deals    map[string]Deal
	tasks    map[string]Task
	subtasks map[string]Subtask
	now      func() time.Time
}

// InMemoryOption customizes an InMemory store.
type InMemoryOption func(*InMemory)

// WithMemoryClock overrides the time source, used in tests.
func WithMemoryClock(now func() time.Time) InMemoryOption {
	return func(m *InMemory) { m.now = now }
}

func NewInMemory(opts ...InMemoryOption) *InMemory {
	m := &InMemory{
		users:    make(map[string]User),
		teams:    make(map[string]Team),
		deals:    make(map[string]Deal),
		tasks:    make(map[string]Task),
		subtasks: make(map[string]Subtask),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

var _ Store = (*InMemory)(nil)

// Users.

func (m *InMemory) CreateUser(_ context.Context, u *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[u.ID]; ok {
		return fmt.Errorf("%w: user %s", ErrConflict, u.ID)
	}
	for _, existing := range m.users {
		if existing.Email == u.Email {
			return fmt.Errorf("%w: email %s already registered", ErrConflict, u.Email)
		}
	}
	m.users[u.ID] = *u
	return nil
}

func (m *InMemory) GetUser(_ context.Context, id string) (User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return User{}, fmt.Errorf("%w: user %s", ErrNotFound, id)
	}
	return u, nil
}

func (m *InMemory) GetUserByEmail(_ context.Context, email string) (User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, u := range m.users {
		if u.Email == email {
			return u, nil
		}
	}
	return User{}, fmt.Errorf("%w: user %s", ErrNotFound, email)
}

func (m *InMemory) ListUsers(_ context.Context) ([]User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]User, 0, len(m.users))
	for _, u := range m.users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *InMemory) UpdateUser(_ context.Context, id string, upd UserUpdate) (User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return User{}, fmt.Errorf("%w: user %s", ErrNotFound, id)
	}
	if upd.Email != nil {
		for otherID, other := range m.users {
			if otherID != id && other.Email == *upd.Email {
				return User{}, fmt.Errorf("%w: email %s already registered", ErrConflict, *upd.Email)
			}
		}
		u.Email = *upd.Email
	}
	if upd.Name != nil {
		u.Name = *upd.Name
	}
	if upd.Role != nil {
		u.Role = *upd.Role
	}
	if upd.Password != nil {
		u.PasswordHash = *upd.Password
	}
	u.UpdatedAt = m.now().UTC()
	m.users[id] = u
	return u, nil
}

func (m *InMemory) SetUserActive(_ context.Context, id string, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return fmt.Errorf("%w: user %s", ErrNotFound, id)
	}
	u.IsActive = active
	u.UpdatedAt = m.now().UTC()
	m.users[id] = u
	return nil
}

func (m *InMemory) DeleteUserRow(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[id]; !ok {
		return fmt.Errorf("%w: user %s", ErrNotFound, id)
	}
	delete(m.users, id)
	return nil
}

func (m *InMemory) UserDependencies(_ context.Context, id string) (Dependencies, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.users[id]; !ok {
		return Dependencies{}, fmt.Errorf("%w: user %s", ErrNotFound, id)
	}
	var deps Dependencies
	for _, d := range m.deals {
		if d.OwnerID == id {
			deps.OwnedDeals++
		}
		if d.AssignedToID == id {
			deps.AssignedDeals++
		}
	}
	for _, t := range m.teams {
		for _, member := range t.MemberIDs {
			if member == id {
				deps.TeamMemberships++
				break
			}
		}
	}
	return deps, nil
}

func (m *InMemory) ReassignUserRecords(_ context.Context, fromID, toID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[fromID]; !ok {
		return fmt.Errorf("%w: user %s", ErrNotFound, fromID)
	}
	if _, ok := m.users[toID]; !ok {
		return fmt.Errorf("%w: user %s", ErrNotFound, toID)
	}
	nowTS := m.now().UTC()
	for id, d := range m.deals {
		changed := false
		if d.OwnerID == fromID {
			d.OwnerID = toID
			changed = true
		}
		if d.AssignedToID == fromID {
			d.AssignedToID = toID
			changed = true
		}
		if changed {
			d.UpdatedAt = nowTS
			m.deals[id] = d
		}
	}
	return nil
}

func (m *InMemory) RemoveUserFromTeams(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	nowTS := m.now().UTC()
	for teamID, t := range m.teams {
		kept := t.MemberIDs[:0:0]
		for _, member := range t.MemberIDs {
			if member != id {
				kept = append(kept, member)
			}
		}
		if len(kept) != len(t.MemberIDs) {
			t.MemberIDs = kept
			t.UpdatedAt = nowTS
			m.teams[teamID] = t
		}
	}
	return nil
}

func (m *InMemory) DeleteUserCascade(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[id]; !ok {
		return fmt.Errorf("%w: user %s", ErrNotFound, id)
	}
	for dealID, d := range m.deals {
		if d.OwnerID != id {
			continue
		}
		m.deleteDealLocked(dealID)
	}
	nowTS := m.now().UTC()
	for dealID, d := range m.deals {
		if d.AssignedToID == id {
			d.AssignedToID = ""
			d.UpdatedAt = nowTS
			m.deals[dealID] = d
		}
	}
	for teamID, t := range m.teams {
		kept := t.MemberIDs[:0:0]
		for _, member := range t.MemberIDs {
			if member != id {
				kept = append(kept, member)
			}
		}
		if len(kept) != len(t.MemberIDs) {
			t.MemberIDs = kept
			t.UpdatedAt = nowTS
			m.teams[teamID] = t
		}
	}
	delete(m.users, id)
	return nil
}

// Teams.

func (m *InMemory) CreateTeam(_ context.Context, t *Team) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.teams[t.ID]; ok {
		return fmt.Errorf("%w: team %s", ErrConflict, t.ID)
	}
	m.teams[t.ID] = cloneTeam(*t)
	return nil
}

func (m *InMemory) GetTeam(_ context.Context, id string) (Team, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.teams[id]
	if !ok {
		return Team{}, fmt.Errorf("%w: team %s", ErrNotFound, id)
	}
	return cloneTeam(t), nil
}

func (m *InMemory) ListTeams(_ context.Context) ([]Team, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Team, 0, len(m.teams))
	for _, t := range m.teams {
		out = append(out, cloneTeam(t))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *InMemory) UpdateTeam(_ context.Context, id string, upd TeamUpdate) (Team, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.teams[id]
	if !ok {
		return Team{}, fmt.Errorf("%w: team %s", ErrNotFound, id)
	}
	if upd.Name != nil {
		t.Name = *upd.Name
	}
	if upd.MemberIDs != nil {
		t.MemberIDs = append([]string(nil), (*upd.MemberIDs)...)
	}
	t.UpdatedAt = m.now().UTC()
	m.teams[id] = t
	return cloneTeam(t), nil
}

func (m *InMemory) DeleteTeam(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.teams[id]; !ok {
		return fmt.Errorf("%w: team %s", ErrNotFound, id)
	}
	delete(m.teams, id)
	nowTS := m.now().UTC()
	for dealID, d := range m.deals {
		if d.TeamID == id {
			d.TeamID = ""
			d.UpdatedAt = nowTS
			m.deals[dealID] = d
		}
	}
	return nil
}

func (m *InMemory) IsTeamMember(_ context.Context, teamID, userID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.teams[teamID]
	if !ok {
		return false, fmt.Errorf("%w: team %s", ErrNotFound, teamID)
	}
	for _, member := range t.MemberIDs {
		if member == userID {
			return true, nil
		}
	}
	return false, nil
}

func (m *InMemory) TeamsForUser(_ context.Context, userID string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []string
	for id, t := range m.teams {
		for _, member := range t.MemberIDs {
			if member == userID {
				out = append(out, id)
				break
			}
		}
	}
	sort.Strings(out)
	return out, nil
}

// Deals.

func (m *InMemory) CreateDeal(_ context.Context, d *Deal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.deals[d.ID]; ok {
		return fmt.Errorf("%w: deal %s", ErrConflict, d.ID)
	}
	m.deals[d.ID] = *d
	return nil
}

func (m *InMemory) GetDeal(_ context.Context, id string) (Deal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.deals[id]
	if !ok {
		return Deal{}, fmt.Errorf("%w: deal %s", ErrNotFound, id)
	}
	return d, nil
}

func (m *InMemory) DealOwnership(_ context.Context, id string) (auth.Ownership, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.deals[id]
	if !ok {
		return auth.Ownership{}, fmt.Errorf("%w: deal %s", ErrNotFound, id)
	}
	return auth.Ownership{OwnerID: d.OwnerID, AssignedToID: d.AssignedToID, TeamID: d.TeamID}, nil
}

func (m *InMemory) ListDeals(_ context.Context, scope DealScope) ([]Deal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Deal, 0, len(m.deals))
	for _, d := range m.deals {
		if scope.Matches(d) {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *InMemory) UpdateDeal(_ context.Context, id string, upd DealUpdate) (Deal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.deals[id]
	if !ok {
		return Deal{}, fmt.Errorf("%w: deal %s", ErrNotFound, id)
	}
	if upd.Title != nil {
		d.Title = *upd.Title
	}
	if upd.Stage != nil {
		d.Stage = *upd.Stage
	}
	if upd.Amount != nil {
		d.Amount = *upd.Amount
	}
	if upd.AssignedToID != nil {
		d.AssignedToID = *upd.AssignedToID
	}
	if upd.TeamID != nil {
		d.TeamID = *upd.TeamID
	}
	d.UpdatedAt = m.now().UTC()
	m.deals[id] = d
	return d, nil
}

func (m *InMemory) DeleteDeal(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.deals[id]; !ok {
		return fmt.Errorf("%w: deal %s", ErrNotFound, id)
	}
	m.deleteDealLocked(id)
	return nil
}

func (m *InMemory) deleteDealLocked(id string) {
	for taskID, t := range m.tasks {
		if t.DealID != id {
			continue
		}
		for subID, st := range m.subtasks {
			if st.TaskID == taskID {
				delete(m.subtasks, subID)
			}
		}
		delete(m.tasks, taskID)
	}
	delete(m.deals, id)
}

// Tasks and subtasks.

func (m *InMemory) CreateTask(_ context.Context, t *Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tasks[t.ID]; ok {
		return fmt.Errorf("%w: task %s", ErrConflict, t.ID)
	}
	m.tasks[t.ID] = *t
	return nil
}

func (m *InMemory) GetTask(_ context.Context, id string) (Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tasks[id]
	if !ok {
		return Task{}, fmt.Errorf("%w: task %s", ErrNotFound, id)
	}
	return t, nil
}

func (m *InMemory) ListTasks(_ context.Context, dealID string) ([]Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Task
	for _, t := range m.tasks {
		if t.DealID == dealID {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *InMemory) UpdateTask(_ context.Context, id string, upd TaskUpdate) (Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return Task{}, fmt.Errorf("%w: task %s", ErrNotFound, id)
	}
	if upd.Title != nil {
		t.Title = *upd.Title
	}
	if upd.Done != nil {
		t.Done = *upd.Done
	}
	m.tasks[id] = t
	return t, nil
}

func (m *InMemory) DeleteTask(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tasks[id]; !ok {
		return fmt.Errorf("%w: task %s", ErrNotFound, id)
	}
	for subID, st := range m.subtasks {
		if st.TaskID == id {
			delete(m.subtasks, subID)
		}
	}
	delete(m.tasks, id)
	return nil
}

func (m *InMemory) CreateSubtask(_ context.Context, s *Subtask) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.subtasks[s.ID]; ok {
		return fmt.Errorf("%w: subtask %s", ErrConflict, s.ID)
	}
	m.subtasks[s.ID] = *s
	return nil
}

func (m *InMemory) GetSubtask(_ context.Context, id string) (Subtask, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st, ok := m.subtasks[id]
	if !ok {
		return Subtask{}, fmt.Errorf("%w: subtask %s", ErrNotFound, id)
	}
	return st, nil
}

func (m *InMemory) ListSubtasks(_ context.Context, taskID string) ([]Subtask, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Subtask
	for _, st := range m.subtasks {
		if st.TaskID == taskID {
			out = append(out, st)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *InMemory) UpdateSubtask(_ context.Context, id string, upd SubtaskUpdate) (Subtask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.subtasks[id]
	if !ok {
		return Subtask{}, fmt.Errorf("%w: subtask %s", ErrNotFound, id)
	}
	if upd.Title != nil {
		st.Title = *upd.Title
	}
	if upd.Done != nil {
		st.Done = *upd.Done
	}
	m.subtasks[id] = st
	return st, nil
}

func (m *InMemory) DeleteSubtask(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.subtasks[id]; !ok {
		return fmt.Errorf("%w: subtask %s", ErrNotFound, id)
	}
	delete(m.subtasks, id)
	return nil
}

func (m *InMemory) Stats(_ context.Context) (Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	stats := Stats{
		Users:        len(m.users),
		Teams:        len(m.teams),
		Deals:        len(m.deals),
		Tasks:        len(m.tasks),
		DealsByStage: make(map[string]int),
	}
	for _, d := range m.deals {
		stats.DealsByStage[d.Stage]++
	}
	return stats, nil
}


func cloneTeam(t Team) Team {
	t.MemberIDs = append([]string(nil), t.MemberIDs...)
	return t
}
