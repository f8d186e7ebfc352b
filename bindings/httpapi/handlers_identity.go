package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"trustcore/errkit"
	"trustcore/identity"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch errkit.KindOf(err) {
	case errkit.NotFound:
		status = http.StatusNotFound
	case errkit.InvalidInput:
		status = http.StatusBadRequest
	case errkit.AlreadyBound, errkit.AlreadyExists, errkit.AlreadyRevoked:
		status = http.StatusConflict
	case errkit.ScopeExceeded, errkit.ParentInvalid, errkit.Expired, errkit.PolicyDenied:
		status = http.StatusForbidden
	case errkit.RateLimited:
		status = http.StatusTooManyRequests
	}
	writeJSON(w, status, map[string]string{"kind": string(errkit.KindOf(err)), "message": err.Error()})
}

func (s *Server) createLCT(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Type          string `json:"type"`
		Subject       string `json:"subject"`
		Issuer        string `json:"issuer"`
		ExpiresInSecs int64  `json:"expires_in_secs"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "invalid payload"})
		return
	}
	lct, priv, err := s.identity.Create(identity.Type(req.Type), req.Subject, req.Issuer, time.Duration(req.ExpiresInSecs)*time.Second)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"lct":         lct,
		"private_key": hexString(priv),
	})
}

func (s *Server) getLCT(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	result, err := s.identity.Query(identity.QueryFilters{})
	if err != nil {
		writeError(w, err)
		return
	}
	for _, l := range result {
		if l.ID == id {
			writeJSON(w, http.StatusOK, l)
			return
		}
	}
	writeError(w, errkit.New(errkit.NotFound, "lct not found"))
}

func (s *Server) verifyLCT(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	result, err := s.identity.Verify(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) bindLCT(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req struct {
		BindingType string `json:"binding_type"`
		DeviceID    string `json:"device_id"`
		Attestation string `json:"attestation_hex"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "invalid payload"})
		return
	}
	attestation, err := hexBytes(req.Attestation)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "invalid attestation_hex"})
		return
	}
	if err := s.identity.Bind(id, identity.BindingType(req.BindingType), req.DeviceID, attestation); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "bound"})
}

func (s *Server) revokeLCT(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req struct {
		Reason string `json:"reason"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)
	if err := s.identity.Revoke(id, req.Reason); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "revoked"})
}

func (s *Server) delegateLCT(w http.ResponseWriter, r *http.Request) {
	parentID := chi.URLParam(r, "id")
	var req struct {
		Subject       string            `json:"subject"`
		Scope         []string          `json:"scope"`
		Constraints   map[string]string `json:"constraints"`
		ExpiresInSecs int64             `json:"expires_in_secs"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "invalid payload"})
		return
	}
	child, priv, warning, err := s.identity.Delegate(parentID, req.Subject, req.Scope, req.Constraints, time.Duration(req.ExpiresInSecs)*time.Second)
	if err != nil {
		writeError(w, err)
		return
	}
	resp := map[string]any{
		"lct":         child,
		"private_key": hexString(priv),
	}
	if warning != "" {
		resp["warning"] = warning
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (s *Server) witnessLCT(w http.ResponseWriter, r *http.Request) {
	subjectID := chi.URLParam(r, "id")
	var req struct {
		WitnessID      string            `json:"witness_id"`
		Action         string            `json:"action"`
		Metadata       map[string]string `json:"metadata"`
		WitnessPrivKey string            `json:"witness_private_key_hex"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "invalid payload"})
		return
	}
	priv, err := hexBytes(req.WitnessPrivKey)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "invalid witness_private_key_hex"})
		return
	}
	rec, err := s.identity.Witness(subjectID, req.WitnessID, req.Action, req.Metadata, priv)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

func (s *Server) chainLCT(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	limit := parseIntQuery(r, "limit", 0)
	result, err := s.identity.Chain(id, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) queryLCT(w http.ResponseWriter, r *http.Request) {
	filters := identity.QueryFilters{
		SubjectContains: r.URL.Query().Get("subject_contains"),
		Type:            identity.Type(r.URL.Query().Get("type")),
		RevokedOnly:     r.URL.Query().Get("revoked_only") == "true",
		ActiveOnly:      r.URL.Query().Get("active_only") == "true",
	}
	result, err := s.identity.Query(filters)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
