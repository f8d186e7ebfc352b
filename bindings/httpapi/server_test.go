package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"trustcore/identity"
	"trustcore/ledger"
	"trustcore/storage"
	"trustcore/trust"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	kv := storage.NewMemoryKV()
	identityStore, err := identity.NewStore(kv)
	if err != nil {
		t.Fatalf("new identity store: %v", err)
	}
	trustEngine := trust.NewEngine(kv, nil)
	ledgerEngine := ledger.NewEngine(kv, ledger.NewRateLimiter(0, 0), nil)
	srv := New(Config{Identity: identityStore, Trust: trustEngine, Ledger: ledgerEngine})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func doJSON(t *testing.T, method, url string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer resp.Body.Close()
	var decoded map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&decoded)
	return resp, decoded
}

func TestHealthz(t *testing.T) {
	ts := newTestServer(t)
	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("get healthz: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

func TestCreateAndVerifyLCTOverHTTP(t *testing.T) {
	ts := newTestServer(t)
	resp, body := doJSON(t, http.MethodPost, ts.URL+"/v1/identity/lct", map[string]any{
		"type":    "root",
		"subject": "agent-alpha",
		"issuer":  "test-issuer",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %+v", resp.StatusCode, body)
	}
	lct, ok := body["lct"].(map[string]any)
	if !ok {
		t.Fatalf("expected lct object in response, got %+v", body)
	}
	id, _ := lct["id"].(string)
	if id == "" {
		t.Fatalf("expected non-empty lct id")
	}

	resp2, body2 := doJSON(t, http.MethodPost, ts.URL+"/v1/identity/lct/"+id+"/verify", nil)
	if resp2.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d: %+v", resp2.StatusCode, body2)
	}
	if valid, _ := body2["valid"].(bool); !valid {
		t.Fatalf("expected valid=true, got %+v", body2)
	}
}

func TestCreateLCTRejectsInvalidType(t *testing.T) {
	ts := newTestServer(t)
	resp, _ := doJSON(t, http.MethodPost, ts.URL+"/v1/identity/lct", map[string]any{
		"type":    "not-a-type",
		"subject": "agent-alpha",
		"issuer":  "test-issuer",
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestTrustUpdateOverHTTP(t *testing.T) {
	ts := newTestServer(t)
	resp, body := doJSON(t, http.MethodPost, ts.URL+"/v1/trust/update", map[string]any{
		"entity_id":           "agent-alpha",
		"role":                "coder",
		"action":              "shipped-fix",
		"outcome":             "success",
		"affected_dimensions": []string{"talent"},
		"magnitude":           0.1,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d: %+v", resp.StatusCode, body)
	}
	newT3, ok := body["new_t3"].(map[string]any)
	if !ok {
		t.Fatalf("expected new_t3 in response, got %+v", body)
	}
	if talent, _ := newT3["talent"].(float64); talent <= 0.5 {
		t.Fatalf("expected talent to rise above neutral, got %v", talent)
	}
}

func TestLedgerSessionLifecycleOverHTTP(t *testing.T) {
	ts := newTestServer(t)
	resp, body := doJSON(t, http.MethodPost, ts.URL+"/v1/ledger/sessions", map[string]any{
		"project":       "demo",
		"action_budget": 10,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %+v", resp.StatusCode, body)
	}
	sessionID, _ := body["session_id"].(string)
	if sessionID == "" {
		t.Fatalf("expected non-empty session_id")
	}

	resp2, body2 := doJSON(t, http.MethodPost, ts.URL+"/v1/ledger/sessions/"+sessionID+"/append", map[string]any{
		"tool_name": "Read",
		"category":  "fs",
		"target":    "a.go",
		"result":    map[string]any{"status": "success"},
	})
	if resp2.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %+v", resp2.StatusCode, body2)
	}

	resp3, body3 := doJSON(t, http.MethodGet, ts.URL+"/v1/ledger/sessions/"+sessionID+"/verify", nil)
	if resp3.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d: %+v", resp3.StatusCode, body3)
	}
	if valid, _ := body3["valid"].(bool); !valid {
		t.Fatalf("expected chain to be valid, got %+v", body3)
	}
}

func TestRateLimitCheckAndRecordOverHTTP(t *testing.T) {
	ts := newTestServer(t)
	resp, body := doJSON(t, http.MethodGet, ts.URL+"/v1/ledger/rate-limit?key=agent-a&max_count=1&window_ms=60000", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d: %+v", resp.StatusCode, body)
	}
	if allowed, _ := body["allowed"].(bool); !allowed {
		t.Fatalf("expected allowed=true on empty window, got %+v", body)
	}

	resp2, _ := doJSON(t, http.MethodPost, ts.URL+"/v1/ledger/rate-limit", map[string]any{
		"key": "agent-a", "max_count": 1, "window_ms": 60000,
	})
	if resp2.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 recording rate limit use")
	}

	resp3, body3 := doJSON(t, http.MethodGet, ts.URL+"/v1/ledger/rate-limit?key=agent-a&max_count=1&window_ms=60000", nil)
	if resp3.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp3.StatusCode)
	}
	if allowed, _ := body3["allowed"].(bool); allowed {
		t.Fatalf("expected allowed=false once budget is exhausted, got %+v", body3)
	}
}

func TestRecordReferenceOverHTTP(t *testing.T) {
	ts := newTestServer(t)
	resp, body := doJSON(t, http.MethodPost, ts.URL+"/v1/ledger/references", map[string]any{
		"session_id": "sess-1",
		"note":       "operator flagged this session for review",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %+v", resp.StatusCode, body)
	}
	if refID, _ := body["ref_id"].(string); refID == "" {
		t.Fatalf("expected non-empty ref_id, got %+v", body)
	}
}

func TestPolicyRegisterAndWitnessOverHTTP(t *testing.T) {
	ts := newTestServer(t)
	resp, body := doJSON(t, http.MethodPost, ts.URL+"/v1/ledger/policies", map[string]any{
		"name":    "default",
		"preset":  "safety",
		"version": 1,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %+v", resp.StatusCode, body)
	}
	policyID, _ := body["entity_id"].(string)
	if policyID == "" {
		t.Fatalf("expected non-empty policy id, got %+v", body)
	}

	resp2, body2 := doJSON(t, http.MethodPost, ts.URL+"/v1/ledger/policies/"+policyID+"/witness", map[string]any{
		"subject":  "agent-alpha",
		"kind":     "session_used_policy",
		"decision": "allow",
	})
	if resp2.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %+v", resp2.StatusCode, body2)
	}
}
