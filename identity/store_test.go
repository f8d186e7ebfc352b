package identity

import (
	"testing"
	"time"

	"trustcore/storage"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(storage.NewMemoryKV())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return s
}

func TestCreateAndVerify(t *testing.T) {
	s := newTestStore(t)
	lct, priv, err := s.Create(TypeSoftware, "agent-1", "issuer-1", time.Hour)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if len(priv) == 0 {
		t.Fatalf("expected private key")
	}
	result, err := s.Verify(lct.ID)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !result.Valid {
		t.Fatalf("expected valid, got errors: %v", result.Errors)
	}
}

func TestCreateRejectsInvalidType(t *testing.T) {
	s := newTestStore(t)
	if _, _, err := s.Create(Type("bogus"), "agent", "issuer", 0); err == nil {
		t.Fatalf("expected error for invalid type")
	}
}

func TestVerifyDetectsExpiry(t *testing.T) {
	s := newTestStore(t)
	now := int64(1000)
	s.SetNowFunc(func() int64 { return now })
	lct, _, err := s.Create(TypeSession, "agent-1", "issuer-1", time.Second)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	now += 2000
	result, err := s.Verify(lct.ID)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if result.Valid {
		t.Fatalf("expected expired lct to be invalid")
	}
}

func TestBindIsPermanent(t *testing.T) {
	s := newTestStore(t)
	lct, _, _ := s.Create(TypeDevice, "agent-1", "issuer-1", 0)
	if err := s.Bind(lct.ID, BindingTPM, "device-1", []byte("attestation")); err != nil {
		t.Fatalf("bind: %v", err)
	}
	if err := s.Bind(lct.ID, BindingTPM, "device-1", []byte("attestation")); err == nil {
		t.Fatalf("expected second bind to fail")
	}
}

func TestRevokeIsTerminal(t *testing.T) {
	s := newTestStore(t)
	lct, _, _ := s.Create(TypeSoftware, "agent-1", "issuer-1", 0)
	if err := s.Revoke(lct.ID, "compromised"); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if err := s.Revoke(lct.ID, "compromised again"); err == nil {
		t.Fatalf("expected second revoke to fail")
	}
	result, err := s.Verify(lct.ID)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if result.Valid {
		t.Fatalf("expected revoked lct to be invalid")
	}
}

func TestDelegateInheritsParentExpiry(t *testing.T) {
	s := newTestStore(t)
	now := int64(1000)
	s.SetNowFunc(func() int64 { return now })
	parent, _, err := s.Create(TypeRoot, "root-agent", "issuer-1", time.Second)
	if err != nil {
		t.Fatalf("create parent: %v", err)
	}
	child, _, warning, err := s.Delegate(parent.ID, "child-agent", []string{"read"}, nil, time.Hour)
	if err != nil {
		t.Fatalf("delegate: %v", err)
	}
	if child.ExpiresAtMs != parent.ExpiresAtMs {
		t.Fatalf("expected child expiry clamped to parent: child=%d parent=%d", child.ExpiresAtMs, parent.ExpiresAtMs)
	}
	if warning == "" {
		t.Fatalf("expected a clamp warning when requested expiry exceeds parent expiry")
	}
}

func TestDelegateNoWarningWhenRequestFitsUnderParentExpiry(t *testing.T) {
	s := newTestStore(t)
	now := int64(1000)
	s.SetNowFunc(func() int64 { return now })
	parent, _, err := s.Create(TypeRoot, "root-agent", "issuer-1", 24*time.Hour)
	if err != nil {
		t.Fatalf("create parent: %v", err)
	}
	_, _, warning, err := s.Delegate(parent.ID, "child-agent", []string{"read"}, nil, time.Hour)
	if err != nil {
		t.Fatalf("delegate: %v", err)
	}
	if warning != "" {
		t.Fatalf("expected no warning when requested expiry fits under parent expiry, got %q", warning)
	}
}

func TestDelegateRejectsScopeEscalation(t *testing.T) {
	s := newTestStore(t)
	parent, _, err := s.Create(TypeRoot, "root-agent", "issuer-1", 0)
	if err != nil {
		t.Fatalf("create parent: %v", err)
	}
	child, _, _, err := s.Delegate(parent.ID, "child-agent", []string{"read"}, nil, time.Hour)
	if err != nil {
		t.Fatalf("delegate: %v", err)
	}
	if _, _, _, err := s.Delegate(child.ID, "grandchild-agent", []string{"read", "write"}, nil, time.Hour); err == nil {
		t.Fatalf("expected scope escalation to be rejected")
	}
}

func TestRevokeCascadesThroughDelegationTree(t *testing.T) {
	s := newTestStore(t)
	root, _, err := s.Create(TypeRoot, "root-agent", "issuer-1", 0)
	if err != nil {
		t.Fatalf("create root: %v", err)
	}
	child, _, _, err := s.Delegate(root.ID, "child-agent", nil, nil, time.Hour)
	if err != nil {
		t.Fatalf("delegate child: %v", err)
	}
	grandchild, _, _, err := s.Delegate(child.ID, "grandchild-agent", nil, nil, time.Hour)
	if err != nil {
		t.Fatalf("delegate grandchild: %v", err)
	}

	if err := s.Revoke(root.ID, "root compromised"); err != nil {
		t.Fatalf("revoke root: %v", err)
	}

	for _, id := range []string{child.ID, grandchild.ID} {
		result, err := s.Verify(id)
		if err != nil {
			t.Fatalf("verify %s: %v", id, err)
		}
		if result.Valid {
			t.Fatalf("expected %s to be invalid after ancestor revocation", id)
		}
	}
}

func TestWitnessRequiresBothLCTsValid(t *testing.T) {
	s := newTestStore(t)
	subject, _, err := s.Create(TypeSoftware, "agent-1", "issuer-1", 0)
	if err != nil {
		t.Fatalf("create subject: %v", err)
	}
	witness, witnessPriv, err := s.Create(TypeSoftware, "agent-2", "issuer-1", 0)
	if err != nil {
		t.Fatalf("create witness: %v", err)
	}
	record, err := s.Witness(subject.ID, witness.ID, "reviewed", map[string]string{"note": "ok"}, witnessPriv)
	if err != nil {
		t.Fatalf("witness: %v", err)
	}
	if record.SubjectLCT != subject.ID || record.WitnessLCT != witness.ID {
		t.Fatalf("unexpected witness record: %+v", record)
	}

	chain, err := s.Chain(subject.ID, 0)
	if err != nil {
		t.Fatalf("chain: %v", err)
	}
	if len(chain.Witnesses) != 1 {
		t.Fatalf("expected 1 witness record, got %d", len(chain.Witnesses))
	}
}

func TestWitnessRejectsRevokedSubject(t *testing.T) {
	s := newTestStore(t)
	subject, _, err := s.Create(TypeSoftware, "agent-1", "issuer-1", 0)
	if err != nil {
		t.Fatalf("create subject: %v", err)
	}
	witness, witnessPriv, err := s.Create(TypeSoftware, "agent-2", "issuer-1", 0)
	if err != nil {
		t.Fatalf("create witness: %v", err)
	}
	if err := s.Revoke(subject.ID, "bad actor"); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if _, err := s.Witness(subject.ID, witness.ID, "reviewed", nil, witnessPriv); err == nil {
		t.Fatalf("expected witness of revoked subject to fail")
	}
}

func TestChainWalksDelegationAncestry(t *testing.T) {
	s := newTestStore(t)
	root, _, _ := s.Create(TypeRoot, "root-agent", "issuer-1", 0)
	child, _, _, err := s.Delegate(root.ID, "child-agent", nil, nil, time.Hour)
	if err != nil {
		t.Fatalf("delegate: %v", err)
	}
	chain, err := s.Chain(child.ID, 0)
	if err != nil {
		t.Fatalf("chain: %v", err)
	}
	if len(chain.DelegationChain) != 1 || chain.DelegationChain[0] != root.ID {
		t.Fatalf("expected delegation chain [%s], got %v", root.ID, chain.DelegationChain)
	}
}

func TestQueryFilters(t *testing.T) {
	s := newTestStore(t)
	a, _, _ := s.Create(TypeSoftware, "agent-alpha", "issuer-1", 0)
	_, _, _ = s.Create(TypeSoftware, "agent-beta", "issuer-1", 0)
	if err := s.Revoke(a.ID, "rotated"); err != nil {
		t.Fatalf("revoke: %v", err)
	}

	active, err := s.Query(QueryFilters{ActiveOnly: true})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	for _, l := range active {
		if l.ID == a.ID {
			t.Fatalf("revoked lct should not appear in active-only query")
		}
	}

	bySubject, err := s.Query(QueryFilters{SubjectContains: "alpha"})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(bySubject) != 1 || bySubject[0].ID != a.ID {
		t.Fatalf("expected subject filter to return exactly agent-alpha")
	}
}

func TestNewStoreRebuildsDelegationIndex(t *testing.T) {
	kv := storage.NewMemoryKV()
	s1, err := NewStore(kv)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	root, _, _ := s1.Create(TypeRoot, "root-agent", "issuer-1", 0)
	child, _, _, err := s1.Delegate(root.ID, "child-agent", nil, nil, 0)
	if err != nil {
		t.Fatalf("delegate: %v", err)
	}

	s2, err := NewStore(kv)
	if err != nil {
		t.Fatalf("NewStore reload: %v", err)
	}
	if err := s2.Revoke(root.ID, "reopened store"); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	result, err := s2.Verify(child.ID)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if result.Valid {
		t.Fatalf("expected cascade to survive a store reload")
	}
}
