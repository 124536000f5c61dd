package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"dealdesk.org/internal/audit"
	"dealdesk.org/internal/auth"
	"dealdesk.org/internal/crm"
	"dealdesk.org/internal/stream"
)

type createDealRequest struct {
	Title        string `json:"title"`
	Stage        string `json:"stage"`
	Amount       int64  `json:"amount"`
	AssignedToID string `json:"assigned_to_id"`
	TeamID       string `json:"team_id"`
}

type updateDealRequest struct {
	Title        *string `json:"title"`
	Stage        *string `json:"stage"`
	Amount       *int64  `json:"amount"`
	AssignedToID *string `json:"assigned_to_id"`
	TeamID       *string `json:"team_id"`
}

// authorizeDeal answers whether the caller may touch the deal, writing the
// response itself on denial. Missing deals read as 404, denials as a
// generic 403 plus an audit entry.
func (a *API) authorizeDeal(w http.ResponseWriter, r *http.Request, ident auth.Identity, dealID string) bool {
	ok, err := a.svc.CanAccessDeal(r.Context(), ident, dealID)
	if err != nil {
		handleServiceError(w, r, err)
		return false
	}
	if !ok {
		_ = audit.LogEvent(r.Context(), "authz.deal.denied", map[string]any{
			"deal_id": dealID,
		})
		writeError(w, r, http.StatusForbidden, "Access denied")
		return false
	}
	return true
}

func (a *API) handleListDeals(w http.ResponseWriter, r *http.Request) {
	ident, ok := identity(r)
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "Not authenticated")
		return
	}
	scope, err := a.svc.ScopeFor(r.Context(), ident)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	deals, err := a.svc.ListDeals(r.Context(), scope)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	if deals == nil {
		deals = []crm.Deal{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": deals})
}

func (a *API) handleCreateDeal(w http.ResponseWriter, r *http.Request) {
	ident, ok := identity(r)
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "Not authenticated")
		return
	}
	var req createDealRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	deal, err := a.svc.CreateDeal(r.Context(), ident.SubjectID, req.Title, req.Stage, req.Amount, req.AssignedToID, req.TeamID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	a.publishDeal(stream.ActionDealCreated, deal, ident)
	_ = audit.LogEvent(r.Context(), "deal.create", map[string]any{"deal_id": deal.ID})
	writeJSON(w, http.StatusCreated, deal)
}

func (a *API) handleGetDeal(w http.ResponseWriter, r *http.Request) {
	ident, ok := identity(r)
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "Not authenticated")
		return
	}
	dealID := chi.URLParam(r, "dealID")
	if !a.authorizeDeal(w, r, ident, dealID) {
		return
	}
	deal, err := a.svc.GetDeal(r.Context(), dealID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, deal)
}

func (a *API) handleUpdateDeal(w http.ResponseWriter, r *http.Request) {
	ident, ok := identity(r)
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "Not authenticated")
		return
	}
	dealID := chi.URLParam(r, "dealID")
	if !a.authorizeDeal(w, r, ident, dealID) {
		return
	}
	var req updateDealRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	deal, err := a.svc.UpdateDeal(r.Context(), dealID, crm.DealUpdate{
		Title:        req.Title,
		Stage:        req.Stage,
		Amount:       req.Amount,
		AssignedToID: req.AssignedToID,
		TeamID:       req.TeamID,
	})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	a.publishDeal(stream.ActionDealUpdated, deal, ident)
	_ = audit.LogEvent(r.Context(), "deal.update", map[string]any{"deal_id": deal.ID})
	writeJSON(w, http.StatusOK, deal)
}

func (a *API) handleDeleteDeal(w http.ResponseWriter, r *http.Request) {
	ident, ok := identity(r)
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "Not authenticated")
		return
	}
	dealID := chi.URLParam(r, "dealID")
	if !a.authorizeDeal(w, r, ident, dealID) {
		return
	}
	if err := a.svc.DeleteDeal(r.Context(), dealID); err != nil {
		handleServiceError(w, r, err)
		return
	}
	if a.stream != nil {
		a.stream.Publish(stream.DealEvent{
			Action:  stream.ActionDealDeleted,
			DealID:  dealID,
			ActorID: ident.SubjectID,
		})
	}
	_ = audit.LogEvent(r.Context(), "deal.delete", map[string]any{"deal_id": dealID})
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) publishDeal(action string, deal crm.Deal, ident auth.Identity) {
	if a.stream == nil {
		return
	}
	a.stream.Publish(stream.DealEvent{
		Action:  action,
		DealID:  deal.ID,
		Title:   deal.Title,
		Stage:   deal.Stage,
		Amount:  deal.Amount,
		ActorID: ident.SubjectID,
	})
}

// Tasks.

type taskRequest struct {
	Title string `json:"title"`
}

type updateTaskRequest struct {
	Title *string `json:"title"`
	Done  *bool   `json:"done"`
}

func (a *API) handleListTasks(w http.ResponseWriter, r *http.Request) {
	ident, ok := identity(r)
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "Not authenticated")
		return
	}
	dealID := chi.URLParam(r, "dealID")
	if !a.authorizeDeal(w, r, ident, dealID) {
		return
	}
	tasks, err := a.svc.ListTasks(r.Context(), dealID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	if tasks == nil {
		tasks = []crm.Task{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": tasks})
}

func (a *API) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	ident, ok := identity(r)
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "Not authenticated")
		return
	}
	dealID := chi.URLParam(r, "dealID")
	if !a.authorizeDeal(w, r, ident, dealID) {
		return
	}
	var req taskRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	task, err := a.svc.CreateTask(r.Context(), dealID, req.Title)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, task)
}

// authorizeTask resolves the task's deal and applies the same access rule.
func (a *API) authorizeTask(w http.ResponseWriter, r *http.Request, ident auth.Identity, taskID string) bool {
	dealID, err := a.svc.TaskDealID(r.Context(), taskID)
	if err != nil {
		handleServiceError(w, r, err)
		return false
	}
	return a.authorizeDeal(w, r, ident, dealID)
}

func (a *API) handleUpdateTask(w http.ResponseWriter, r *http.Request) {
	ident, ok := identity(r)
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "Not authenticated")
		return
	}
	taskID := chi.URLParam(r, "taskID")
	if !a.authorizeTask(w, r, ident, taskID) {
		return
	}
	var req updateTaskRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	task, err := a.svc.UpdateTask(r.Context(), taskID, crm.TaskUpdate{Title: req.Title, Done: req.Done})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (a *API) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	ident, ok := identity(r)
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "Not authenticated")
		return
	}
	taskID := chi.URLParam(r, "taskID")
	if !a.authorizeTask(w, r, ident, taskID) {
		return
	}
	if err := a.svc.DeleteTask(r.Context(), taskID); err != nil {
		handleServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleListSubtasks(w http.ResponseWriter, r *http.Request) {
	ident, ok := identity(r)
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "Not authenticated")
		return
	}
	taskID := chi.URLParam(r, "taskID")
	if !a.authorizeTask(w, r, ident, taskID) {
		return
	}
	subtasks, err := a.svc.ListSubtasks(r.Context(), taskID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	if subtasks == nil {
		subtasks = []crm.Subtask{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": subtasks})
}

func (a *API) handleCreateSubtask(w http.ResponseWriter, r *http.Request) {
	ident, ok := identity(r)
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "Not authenticated")
		return
	}
	taskID := chi.URLParam(r, "taskID")
	if !a.authorizeTask(w, r, ident, taskID) {
		return
	}
	var req taskRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	subtask, err := a.svc.CreateSubtask(r.Context(), taskID, req.Title)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, subtask)
}

// authorizeSubtask walks subtask -> task -> deal.
func (a *API) authorizeSubtask(w http.ResponseWriter, r *http.Request, ident auth.Identity, subtaskID string) bool {
	dealID, err := a.svc.SubtaskDealID(r.Context(), subtaskID)
	if err != nil {
		handleServiceError(w, r, err)
		return false
	}
	return a.authorizeDeal(w, r, ident, dealID)
}

func (a *API) handleUpdateSubtask(w http.ResponseWriter, r *http.Request) {
	ident, ok := identity(r)
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "Not authenticated")
		return
	}
	subtaskID := chi.URLParam(r, "subtaskID")
	if !a.authorizeSubtask(w, r, ident, subtaskID) {
		return
	}
	var req updateTaskRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	subtask, err := a.svc.UpdateSubtask(r.Context(), subtaskID, crm.SubtaskUpdate{Title: req.Title, Done: req.Done})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, subtask)
}

func (a *API) handleDeleteSubtask(w http.ResponseWriter, r *http.Request) {
	ident, ok := identity(r)
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "Not authenticated")
		return
	}
	subtaskID := chi.URLParam(r, "subtaskID")
	if !a.authorizeSubtask(w, r, ident, subtaskID) {
		return
	}
	if err := a.svc.DeleteSubtask(r.Context(), subtaskID); err != nil {
		handleServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleAnalyticsSummary(w http.ResponseWriter, r *http.Request) {
	stats, err := a.svc.Stats(r.Context())
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
