package stdio

import (
	"encoding/json"
	"time"

	"trustcore/errkit"
	"trustcore/identity"
	"trustcore/ledger"
	"trustcore/policy"
	"trustcore/trust"
)

func (l *Loop) call(method string, params json.RawMessage) (any, error) {
	switch method {
	case "identity.create":
		var req struct {
			Type          string `json:"type"`
			Subject       string `json:"subject"`
			Issuer        string `json:"issuer"`
			ExpiresInSecs int64  `json:"expires_in_secs"`
		}
		if err := decode(params, &req); err != nil {
			return nil, err
		}
		lct, priv, err := l.identity.Create(identity.Type(req.Type), req.Subject, req.Issuer, time.Duration(req.ExpiresInSecs)*time.Second)
		if err != nil {
			return nil, err
		}
		return map[string]any{"lct": lct, "private_key": hexString(priv)}, nil

	case "identity.verify":
		var req struct {
			ID string `json:"id"`
		}
		if err := decode(params, &req); err != nil {
			return nil, err
		}
		return l.identity.Verify(req.ID)

	case "identity.bind":
		var req struct {
			ID          string `json:"id"`
			BindingType string `json:"binding_type"`
			DeviceID    string `json:"device_id"`
			Attestation string `json:"attestation_hex"`
		}
		if err := decode(params, &req); err != nil {
			return nil, err
		}
		attestation, err := hexBytes(req.Attestation)
		if err != nil {
			return nil, errkit.Wrap(errkit.InvalidInput, "invalid attestation_hex", err)
		}
		if err := l.identity.Bind(req.ID, identity.BindingType(req.BindingType), req.DeviceID, attestation); err != nil {
			return nil, err
		}
		return map[string]string{"status": "bound"}, nil

	case "identity.revoke":
		var req struct {
			ID     string `json:"id"`
			Reason string `json:"reason"`
		}
		if err := decode(params, &req); err != nil {
			return nil, err
		}
		if err := l.identity.Revoke(req.ID, req.Reason); err != nil {
			return nil, err
		}
		return map[string]string{"status": "revoked"}, nil

	case "identity.delegate":
		var req struct {
			ParentID      string            `json:"parent_id"`
			Subject       string            `json:"subject"`
			Scope         []string          `json:"scope"`
			Constraints   map[string]string `json:"constraints"`
			ExpiresInSecs int64             `json:"expires_in_secs"`
		}
		if err := decode(params, &req); err != nil {
			return nil, err
		}
		child, priv, warning, err := l.identity.Delegate(req.ParentID, req.Subject, req.Scope, req.Constraints, time.Duration(req.ExpiresInSecs)*time.Second)
		if err != nil {
			return nil, err
		}
		resp := map[string]any{"lct": child, "private_key": hexString(priv)}
		if warning != "" {
			resp["warning"] = warning
		}
		return resp, nil

	case "identity.witness":
		var req struct {
			SubjectID      string            `json:"subject_id"`
			WitnessID      string            `json:"witness_id"`
			Action         string            `json:"action"`
			Metadata       map[string]string `json:"metadata"`
			WitnessPrivKey string            `json:"witness_private_key_hex"`
		}
		if err := decode(params, &req); err != nil {
			return nil, err
		}
		priv, err := hexBytes(req.WitnessPrivKey)
		if err != nil {
			return nil, errkit.Wrap(errkit.InvalidInput, "invalid witness_private_key_hex", err)
		}
		return l.identity.Witness(req.SubjectID, req.WitnessID, req.Action, req.Metadata, priv)

	case "identity.chain":
		var req struct {
			ID    string `json:"id"`
			Limit int    `json:"limit"`
		}
		if err := decode(params, &req); err != nil {
			return nil, err
		}
		return l.identity.Chain(req.ID, req.Limit)

	case "identity.query":
		var req identity.QueryFilters
		if err := decode(params, &req); err != nil {
			return nil, err
		}
		return l.identity.Query(req)

	case "trust.query":
		var req struct {
			EntityID string `json:"entity_id"`
			Role     string `json:"role"`
		}
		if err := decode(params, &req); err != nil {
			return nil, err
		}
		return l.trust.Query(req.EntityID, req.Role)

	case "trust.update":
		var req struct {
			EntityID  string   `json:"entity_id"`
			Role      string   `json:"role"`
			Action    string   `json:"action"`
			Outcome   string   `json:"outcome"`
			Affected  []string `json:"affected_dimensions"`
			Magnitude float64  `json:"magnitude"`
		}
		if err := decode(params, &req); err != nil {
			return nil, err
		}
		dims, err := trust.ParseDimensions(req.Affected)
		if err != nil {
			return nil, err
		}
		return l.trust.Update(req.EntityID, req.Role, req.Action, trust.Outcome(req.Outcome), dims, req.Magnitude)

	case "trust.history":
		var req struct {
			EntityID string `json:"entity_id"`
			Role     string `json:"role"`
			Limit    int    `json:"limit"`
			SinceMs  int64  `json:"since_ms"`
		}
		if err := decode(params, &req); err != nil {
			return nil, err
		}
		return l.trust.History(req.EntityID, req.Role, req.Limit, req.SinceMs)

	case "trust.compare":
		var req struct {
			Entity1 string `json:"entity1"`
			Role1   string `json:"role1"`
			Entity2 string `json:"entity2"`
			Role2   string `json:"role2"`
		}
		if err := decode(params, &req); err != nil {
			return nil, err
		}
		return l.trust.Compare(req.Entity1, req.Role1, req.Entity2, req.Role2)

	case "trust.aggregate":
		var req struct {
			Sources []trust.AggregateSource `json:"sources"`
			Method  string                  `json:"method"`
		}
		if err := decode(params, &req); err != nil {
			return nil, err
		}
		return l.trust.Aggregate(req.Sources, trust.AggregateMethod(req.Method))

	case "trust.decay":
		var req struct {
			EntityID     string  `json:"entity_id"`
			Role         string  `json:"role"`
			HalfLifeDays float64 `json:"half_life_days"`
		}
		if err := decode(params, &req); err != nil {
			return nil, err
		}
		return l.trust.Decay(req.EntityID, req.Role, req.HalfLifeDays)

	case "ledger.open_session":
		var req struct {
			Project               string `json:"project"`
			ActionBudget          int64  `json:"action_budget"`
			InitialPolicyEntityID string `json:"initial_policy_entity_id"`
		}
		if err := decode(params, &req); err != nil {
			return nil, err
		}
		return l.ledger.OpenSession(req.Project, req.ActionBudget, req.InitialPolicyEntityID)

	case "ledger.append":
		var req struct {
			SessionID string `json:"session_id"`
			ledger.AppendInput
		}
		if err := decode(params, &req); err != nil {
			return nil, err
		}
		return l.ledger.Append(req.SessionID, req.AppendInput)

	case "ledger.close_session":
		var req struct {
			SessionID string `json:"session_id"`
		}
		if err := decode(params, &req); err != nil {
			return nil, err
		}
		if err := l.ledger.CloseSession(req.SessionID); err != nil {
			return nil, err
		}
		return map[string]string{"status": "closed"}, nil

	case "ledger.verify_chain":
		var req struct {
			SessionID string `json:"session_id"`
		}
		if err := decode(params, &req); err != nil {
			return nil, err
		}
		return l.ledger.VerifyChain(req.SessionID)

	case "ledger.stats":
		var req struct {
			SessionID string `json:"session_id"`
		}
		if err := decode(params, &req); err != nil {
			return nil, err
		}
		return l.ledger.Stats(req.SessionID)

	case "ledger.query":
		var req ledger.QueryFilters
		if err := decode(params, &req); err != nil {
			return nil, err
		}
		return l.ledger.Query(req)

	case "ledger.heartbeat":
		var req struct {
			SessionID string `json:"session_id"`
			Sequence  int64  `json:"sequence"`
			JitterMs  int64  `json:"jitter_ms"`
		}
		if err := decode(params, &req); err != nil {
			return nil, err
		}
		return l.ledger.Heartbeat(req.SessionID, req.Sequence, req.JitterMs)

	case "ledger.register_policy":
		var req struct {
			Name        string          `json:"name"`
			Preset      string          `json:"preset"`
			RuleSet     *policy.RuleSet `json:"rule_set"`
			EnforceFlag bool            `json:"enforce_flag"`
			Version     int             `json:"version"`
		}
		if err := decode(params, &req); err != nil {
			return nil, err
		}
		return l.ledger.RegisterPolicy(req.Name, policy.Preset(req.Preset), req.RuleSet, req.EnforceFlag, req.Version)

	case "ledger.load_policy":
		var req struct {
			EntityID string `json:"entity_id"`
		}
		if err := decode(params, &req); err != nil {
			return nil, err
		}
		entity, ok, err := l.ledger.LoadPolicy(req.EntityID)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, errkit.New(errkit.NotFound, "policy not found")
		}
		return entity, nil

	case "ledger.witness_policy":
		var req struct {
			PolicyEntityID string `json:"policy_entity_id"`
			Subject        string `json:"subject"`
			Kind           string `json:"kind"`
			Decision       string `json:"decision"`
			Success        *bool  `json:"success"`
		}
		if err := decode(params, &req); err != nil {
			return nil, err
		}
		return l.ledger.Witness(req.PolicyEntityID, req.Subject, req.Kind, req.Decision, req.Success)

	case "ledger.rate_limit_check":
		var req struct {
			Key      string `json:"key"`
			MaxCount int    `json:"max_count"`
			WindowMs int64  `json:"window_ms"`
		}
		if err := decode(params, &req); err != nil {
			return nil, err
		}
		return l.ledger.RateLimitCheck(req.Key, req.MaxCount, req.WindowMs), nil

	case "ledger.rate_limit_record":
		var req struct {
			Key      string `json:"key"`
			MaxCount int    `json:"max_count"`
			WindowMs int64  `json:"window_ms"`
		}
		if err := decode(params, &req); err != nil {
			return nil, err
		}
		return l.ledger.RateLimitRecord(req.Key, req.MaxCount, req.WindowMs), nil

	case "ledger.record_reference":
		var req struct {
			RefID      string `json:"ref_id"`
			SessionID  string `json:"session_id"`
			SubjectLCT string `json:"subject_lct"`
			Note       string `json:"note"`
		}
		if err := decode(params, &req); err != nil {
			return nil, err
		}
		return l.ledger.RecordReference(req.RefID, req.SessionID, req.SubjectLCT, req.Note)

	case "policy.evaluate":
		var req struct {
			Entity   *policy.Entity `json:"entity"`
			Tool     string         `json:"tool"`
			Category string         `json:"category"`
			Target   string         `json:"target"`
		}
		if err := decode(params, &req); err != nil {
			return nil, err
		}
		if req.Entity == nil {
			return nil, errkit.New(errkit.InvalidInput, "entity is required")
		}
		return policy.Evaluate(req.Entity, req.Tool, req.Category, req.Target), nil

	default:
		return nil, errkit.New(errkit.InvalidInput, "unknown method: "+method)
	}
}

func decode(params json.RawMessage, v any) error {
	if len(params) == 0 {
		return nil
	}
	if err := json.Unmarshal(params, v); err != nil {
		return errkit.Wrap(errkit.InvalidInput, "invalid params", err)
	}
	return nil
}
