package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"trustcore/ledger"
	"trustcore/policy"
)

func (s *Server) openSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Project               string `json:"project"`
		ActionBudget          int64  `json:"action_budget"`
		InitialPolicyEntityID string `json:"initial_policy_entity_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "invalid payload"})
		return
	}
	session, err := s.ledger.OpenSession(req.Project, req.ActionBudget, req.InitialPolicyEntityID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, session)
}

func (s *Server) appendRecord(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")
	var input ledger.AppendInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "invalid payload"})
		return
	}
	record, err := s.ledger.Append(sessionID, input)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, record)
}

func (s *Server) closeSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")
	if err := s.ledger.CloseSession(sessionID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "closed"})
}

func (s *Server) verifySessionChain(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")
	result, err := s.ledger.VerifyChain(sessionID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) sessionStats(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")
	stats, err := s.ledger.Stats(sessionID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) queryRecords(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filters := ledger.QueryFilters{
		SessionID: q.Get("session_id"),
		ToolName:  q.Get("tool_name"),
		Category:  q.Get("category"),
		Status:    ledger.Status(q.Get("status")),
		Target:    q.Get("target"),
		SinceMs:   parseInt64Query(r, "since_ms", 0),
		Limit:     parseIntQuery(r, "limit", 0),
	}
	records, err := s.ledger.Query(filters)
	if err != nil {
		writeError(w, err)
		return
	}
	if r.URL.Query().Get("report") == "true" {
		writeJSON(w, http.StatusOK, ledger.BuildReport(records))
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) heartbeat(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SessionID string `json:"session_id"`
		Sequence  int64  `json:"sequence"`
		JitterMs  int64  `json:"jitter_ms"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "invalid payload"})
		return
	}
	hb, err := s.ledger.Heartbeat(req.SessionID, req.Sequence, req.JitterMs)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, hb)
}

func (s *Server) registerPolicy(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name        string          `json:"name"`
		Preset      string          `json:"preset"`
		RuleSet     *policy.RuleSet `json:"rule_set"`
		EnforceFlag bool            `json:"enforce_flag"`
		Version     int             `json:"version"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "invalid payload"})
		return
	}
	entity, err := s.ledger.RegisterPolicy(req.Name, policy.Preset(req.Preset), req.RuleSet, req.EnforceFlag, req.Version)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, entity)
}

func (s *Server) getPolicy(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	entity, ok, err := s.ledger.LoadPolicy(id)
	if err != nil {
		writeError(w, err)
		return
	}
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "policy not found"})
		return
	}
	writeJSON(w, http.StatusOK, entity)
}

func (s *Server) witnessPolicy(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req struct {
		Subject  string `json:"subject"`
		Kind     string `json:"kind"`
		Decision string `json:"decision"`
		Success  *bool  `json:"success"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "invalid payload"})
		return
	}
	link, err := s.ledger.Witness(id, req.Subject, req.Kind, req.Decision, req.Success)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, link)
}

func (s *Server) rateLimitCheck(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	result := s.ledger.RateLimitCheck(q.Get("key"), parseIntQuery(r, "max_count", 0), parseInt64Query(r, "window_ms", 0))
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) rateLimitRecord(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Key      string `json:"key"`
		MaxCount int    `json:"max_count"`
		WindowMs int64  `json:"window_ms"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "invalid payload"})
		return
	}
	result := s.ledger.RateLimitRecord(req.Key, req.MaxCount, req.WindowMs)
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) recordReference(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RefID      string `json:"ref_id"`
		SessionID  string `json:"session_id"`
		SubjectLCT string `json:"subject_lct"`
		Note       string `json:"note"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "invalid payload"})
		return
	}
	ref, err := s.ledger.RecordReference(req.RefID, req.SessionID, req.SubjectLCT, req.Note)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, ref)
}
