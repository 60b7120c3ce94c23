package main

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/ceedaragents/cyrus/internal/config"
	"github.com/ceedaragents/cyrus/internal/session"
)

// adminHandlers binds the /admin/* surface to a running Manager and
// Registry (spec §6 "/admin/* ... mutate config, list sessions, etc.").
type adminHandlers struct {
	mgr *config.Manager
	reg *session.Registry
}

func (a *adminHandlers) handleConfig(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(config.Masked(a.mgr.Get()))
}

func (a *adminHandlers) handleRepositories(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var repo config.Repository
		if err := json.NewDecoder(r.Body).Decode(&repo); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err := a.mgr.AddRepository(repo); err != nil {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		w.WriteHeader(http.StatusCreated)
	case http.MethodDelete:
		id := strings.TrimPrefix(r.URL.Path, "/admin/repositories/")
		if err := a.mgr.RemoveRepository(id); err != nil {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

type sessionSummary struct {
	RepositoryID string `json:"repositoryId"`
	IssueID      string `json:"issueId"`
	ThreadID     string `json:"threadId,omitempty"`
	State        string `json:"state"`
}

func (a *adminHandlers) handleSessions(w http.ResponseWriter, r *http.Request) {
	running := a.reg.ListRunning()
	out := make([]sessionSummary, 0, len(running))
	for _, s := range running {
		out = append(out, sessionSummary{
			RepositoryID: s.Key.RepositoryID,
			IssueID:      s.Key.IssueID,
			ThreadID:     s.Key.ThreadID,
			State:        string(s.CurrentState()),
		})
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(out)
}
