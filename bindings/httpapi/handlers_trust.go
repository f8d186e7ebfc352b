package httpapi

import (
	"encoding/json"
	"net/http"

	"trustcore/trust"
)

func (s *Server) getTrustRecord(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	result, err := s.trust.Query(q.Get("entity_id"), q.Get("role"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) updateTrust(w http.ResponseWriter, r *http.Request) {
	var req struct {
		EntityID  string   `json:"entity_id"`
		Role      string   `json:"role"`
		Action    string   `json:"action"`
		Outcome   string   `json:"outcome"`
		Affected  []string `json:"affected_dimensions"`
		Magnitude float64  `json:"magnitude"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "invalid payload"})
		return
	}
	dims, err := trust.ParseDimensions(req.Affected)
	if err != nil {
		writeError(w, err)
		return
	}
	result, err := s.trust.Update(req.EntityID, req.Role, req.Action, trust.Outcome(req.Outcome), dims, req.Magnitude)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) trustHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := parseIntQuery(r, "limit", 0)
	since := parseInt64Query(r, "since_ms", 0)
	result, err := s.trust.History(q.Get("entity_id"), q.Get("role"), limit, since)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) compareTrust(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	result, err := s.trust.Compare(q.Get("entity1"), q.Get("role1"), q.Get("entity2"), q.Get("role2"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) aggregateTrust(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Sources []trust.AggregateSource `json:"sources"`
		Method  string                  `json:"method"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "invalid payload"})
		return
	}
	result, err := s.trust.Aggregate(req.Sources, trust.AggregateMethod(req.Method))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) decayTrust(w http.ResponseWriter, r *http.Request) {
	var req struct {
		EntityID     string  `json:"entity_id"`
		Role         string  `json:"role"`
		HalfLifeDays float64 `json:"half_life_days"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "invalid payload"})
		return
	}
	result, err := s.trust.Decay(req.EntityID, req.Role, req.HalfLifeDays)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
