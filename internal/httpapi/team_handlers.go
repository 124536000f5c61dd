package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"dealdesk.org/internal/audit"
	"dealdesk.org/internal/crm"
)

type createTeamRequest struct {
	Name      string   `json:"name"`
	MemberIDs []string `json:"member_ids"`
}

type updateTeamRequest struct {
	Name      *string   `json:"name"`
	MemberIDs *[]string `json:"member_ids"`
}

func (a *API) handleListTeams(w http.ResponseWriter, r *http.Request) {
	teams, err := a.svc.ListTeams(r.Context())
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	if teams == nil {
		teams = []crm.Team{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": teams})
}

func (a *API) handleGetTeam(w http.ResponseWriter, r *http.Request) {
	team, err := a.svc.GetTeam(r.Context(), chi.URLParam(r, "teamID"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, team)
}

func (a *API) handleCreateTeam(w http.ResponseWriter, r *http.Request) {
	var req createTeamRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	team, err := a.svc.CreateTeam(r.Context(), req.Name, req.MemberIDs)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "team.create", map[string]any{
		"team_id": team.ID,
		"members": len(team.MemberIDs),
	})
	writeJSON(w, http.StatusCreated, team)
}

func (a *API) handleUpdateTeam(w http.ResponseWriter, r *http.Request) {
	var req updateTeamRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	team, err := a.svc.UpdateTeam(r.Context(), chi.URLParam(r, "teamID"), crm.TeamUpdate{
		Name:      req.Name,
		MemberIDs: req.MemberIDs,
	})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "team.update", map[string]any{"team_id": team.ID})
	writeJSON(w, http.StatusOK, team)
}

func (a *API) handleDeleteTeam(w http.ResponseWriter, r *http.Request) {
	teamID := chi.URLParam(r, "teamID")
	if err := a.svc.DeleteTeam(r.Context(), teamID); err != nil {
		handleServiceError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "team.delete", map[string]any{"team_id": teamID})
	w.WriteHeader(http.StatusNoContent)
}
