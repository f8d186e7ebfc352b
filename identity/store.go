// Package identity implements component C2, the LCT registry: creation,
// verification, hardware binding, revocation (with cascade), delegation,
// witnessing, and query.
package identity

import (
	"encoding/hex"
	"sort"
	"strings"
	"sync"
	"time"

	"trustcore/crypto"
	"trustcore/errkit"
	"trustcore/storage"
)

const kvPrefix = "identity/lct/"

// Store owns every LCT. Locking is per-id (striped via a lazily
// populated map of RWMutex), matching SPEC_FULL.md §5: no global lock,
// revoke takes a write lock on the subject and walks the precomputed
// parent→children index to cascade.
type Store struct {
	kv storage.KV

	lockMu sync.Mutex
	locks  map[string]*sync.RWMutex

	childMu  sync.RWMutex
	children map[string][]string // parent id -> child ids

	nowFn func() int64
}

// NewStore constructs a registry backed by kv, rebuilding the delegation
// index from any records already present (e.g. after a process restart).
func NewStore(kv storage.KV) (*Store, error) {
	s := &Store{
		kv:       kv,
		locks:    make(map[string]*sync.RWMutex),
		children: make(map[string][]string),
		nowFn:    func() int64 { return time.Now().UnixMilli() },
	}
	ids, err := kv.Keys(kvPrefix)
	if err != nil {
		return nil, err
	}
	for _, key := range ids {
		var l LCT
		ok, err := kv.Get(key, &l)
		if err != nil {
			return nil, err
		}
		if !ok || l.Delegation == nil {
			continue
		}
		s.indexChild(l.Delegation.ParentID, l.ID)
	}
	return s, nil
}

// SetNowFunc overrides the wall clock; tests use this for deterministic
// expiry and decay checks.
func (s *Store) SetNowFunc(now func() int64) {
	if now == nil {
		s.nowFn = func() int64 { return time.Now().UnixMilli() }
		return
	}
	s.nowFn = now
}

func (s *Store) now() int64 { return s.nowFn() }

func (s *Store) lockFor(id string) *sync.RWMutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	l, ok := s.locks[id]
	if !ok {
		l = &sync.RWMutex{}
		s.locks[id] = l
	}
	return l
}

func (s *Store) indexChild(parentID, childID string) {
	s.childMu.Lock()
	defer s.childMu.Unlock()
	for _, existing := range s.children[parentID] {
		if existing == childID {
			return
		}
	}
	s.children[parentID] = append(s.children[parentID], childID)
}

func (s *Store) childrenOf(parentID string) []string {
	s.childMu.RLock()
	defer s.childMu.RUnlock()
	out := make([]string, len(s.children[parentID]))
	copy(out, s.children[parentID])
	return out
}

func (s *Store) get(id string) (*LCT, bool, error) {
	var l LCT
	ok, err := s.kv.Get(kvPrefix+id, &l)
	if err != nil || !ok {
		return nil, ok, err
	}
	return &l, true, nil
}

func (s *Store) put(l *LCT) error {
	return s.kv.Put(kvPrefix+l.ID, l)
}

// Create mints a fresh LCT and returns it with the newly generated
// private key; the store never retains private key material.
func (s *Store) Create(typ Type, subject, issuer string, expiresIn time.Duration) (*LCT, crypto.PrivateKey, error) {
	if !typ.valid() {
		return nil, nil, errkit.New(errkit.InvalidInput, "invalid lct type: "+string(typ))
	}
	if strings.TrimSpace(subject) == "" {
		return nil, nil, errkit.New(errkit.InvalidInput, "subject is required")
	}
	pub, priv, err := crypto.GenerateKeypair()
	if err != nil {
		return nil, nil, err
	}
	now := s.now()
	var expiresAt int64
	if expiresIn > 0 {
		expiresAt = now + expiresIn.Milliseconds()
		if expiresAt <= now {
			return nil, nil, errkit.New(errkit.InvalidInput, "expires_in must place expiry strictly in the future")
		}
	} else if expiresIn < 0 {
		return nil, nil, errkit.New(errkit.InvalidInput, "expires_in must be non-negative")
	}

	uri := NewURI(string(typ), randomInstance(pub), "identity", "local")
	l := &LCT{
		URI:         uri.String(),
		Type:        typ,
		Subject:     subject,
		Issuer:      issuer,
		PublicKey:   pub,
		IssuedAtMs:  now,
		ExpiresAtMs: expiresAt,
	}
	if err := s.sign(l, priv); err != nil {
		return nil, nil, err
	}
	l.ID, err = crypto.HashOf(l.payload())
	if err != nil {
		return nil, nil, err
	}
	if err := s.put(l); err != nil {
		return nil, nil, err
	}
	return l, priv, nil
}

func (s *Store) sign(l *LCT, priv crypto.PrivateKey) error {
	enc, err := crypto.CanonicalEncode(l.payload())
	if err != nil {
		return err
	}
	sig, err := crypto.Sign(enc, priv)
	if err != nil {
		return err
	}
	l.Signature = sig
	return nil
}

func randomInstance(pub crypto.PublicKey) string {
	h := crypto.ContentHashHex(pub)
	if len(h) > 12 {
		h = h[:12]
	}
	return h
}

// Verify checks existence, revocation, expiry, signature, and (for
// delegated LCTs) recursively verifies the parent. Cost is O(depth).
func (s *Store) Verify(id string) (VerifyResult, error) {
	l, ok, err := s.get(id)
	if err != nil {
		return VerifyResult{}, err
	}
	if !ok {
		return VerifyResult{Valid: false, Errors: []string{string(errkit.NotFound)}}, nil
	}
	return s.verifyChain(l, map[string]bool{})
}

func (s *Store) verifyChain(l *LCT, seen map[string]bool) (VerifyResult, error) {
	if seen[l.ID] {
		return VerifyResult{Valid: false, Errors: []string{"delegation cycle detected"}}, nil
	}
	seen[l.ID] = true

	var errs []string
	if l.Revocation.Revoked {
		errs = append(errs, string(errkit.AlreadyRevoked))
	}
	if l.ExpiresAtMs > 0 && s.now() >= l.ExpiresAtMs {
		errs = append(errs, string(errkit.Expired))
	}
	enc, encErr := crypto.CanonicalEncode(l.payload())
	if encErr != nil {
		errs = append(errs, encErr.Error())
	} else if verr := crypto.Verify(enc, l.Signature, l.PublicKey); verr != nil {
		errs = append(errs, string(errkit.Crypto))
	}
	if l.Delegation != nil {
		parent, ok, err := s.get(l.Delegation.ParentID)
		if err != nil {
			return VerifyResult{}, err
		}
		if !ok {
			errs = append(errs, string(errkit.ParentInvalid))
		} else {
			parentResult, err := s.verifyChain(parent, seen)
			if err != nil {
				return VerifyResult{}, err
			}
			if !parentResult.Valid {
				errs = append(errs, string(errkit.ParentInvalid))
			}
		}
	}
	return VerifyResult{Valid: len(errs) == 0, Errors: errs}, nil
}

// Bind attaches a hardware attestation. Once set, binding is permanent:
// a second call always fails with AlreadyBound, regardless of whether the
// new binding matches the old one (SPEC_FULL.md's conservative choice on
// the hardware-binding open question).
func (s *Store) Bind(id string, bindingType BindingType, deviceID string, attestation []byte) error {
	lock := s.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	l, ok, err := s.get(id)
	if err != nil {
		return err
	}
	if !ok {
		return errkit.New(errkit.NotFound, "lct not found: "+id)
	}
	if l.Binding != nil {
		return errkit.New(errkit.AlreadyBound, "lct already hardware-bound: "+id)
	}
	l.Binding = &HardwareBinding{
		Type:        bindingType,
		DeviceID:    deviceID,
		Attestation: attestation,
		BoundAtMs:   s.now(),
	}
	return s.put(l)
}

// Revoke marks id revoked and cascades to every descendant reachable
// through the parent→children index, returning only after every
// descendant has been marked.
func (s *Store) Revoke(id, reason string) error {
	lock := s.lockFor(id)
	lock.Lock()
	l, ok, err := s.get(id)
	if err != nil {
		lock.Unlock()
		return err
	}
	if !ok {
		lock.Unlock()
		return errkit.New(errkit.NotFound, "lct not found: "+id)
	}
	if l.Revocation.Revoked {
		lock.Unlock()
		return errkit.New(errkit.AlreadyRevoked, "lct already revoked: "+id)
	}
	l.Revocation = RevocationState{Revoked: true, RevokedAtMs: s.now(), Reason: reason}
	err = s.put(l)
	lock.Unlock()
	if err != nil {
		return err
	}
	return s.cascade(id)
}

func (s *Store) cascade(parentID string) error {
	for _, childID := range s.childrenOf(parentID) {
		lock := s.lockFor(childID)
		lock.Lock()
		child, ok, err := s.get(childID)
		if err != nil || !ok {
			lock.Unlock()
			if err != nil {
				return err
			}
			continue
		}
		if !child.Revocation.Revoked {
			child.Revocation = RevocationState{Revoked: true, RevokedAtMs: s.now(), Reason: "Parent revoked"}
			err = s.put(child)
		}
		lock.Unlock()
		if err != nil {
			return err
		}
		if err := s.cascade(childID); err != nil {
			return err
		}
	}
	return nil
}

// Delegate mints a child LCT whose fate is bound to parentID: expiry is
// clamped to the parent's, scope must be a subset of the parent's when
// the parent declares one, and revoking the parent cascades here.
// Delegate mints a child LCT under parentID. warning is non-empty when the
// requested expiry was clamped to the parent's own expiry (spec §4.2: "else
// clamp and emit warning") — callers surface it to the caller without
// failing the request.
func (s *Store) Delegate(parentID, subject string, scope []string, constraints map[string]string, expiresIn time.Duration) (*LCT, crypto.PrivateKey, string, error) {
	parent, ok, err := s.get(parentID)
	if err != nil {
		return nil, nil, "", err
	}
	if !ok {
		return nil, nil, "", errkit.New(errkit.NotFound, "parent lct not found: "+parentID)
	}
	verifyResult, err := s.verifyChain(parent, map[string]bool{})
	if err != nil {
		return nil, nil, "", err
	}
	if !verifyResult.Valid {
		return nil, nil, "", errkit.New(errkit.ParentInvalid, "parent lct does not verify: "+strings.Join(verifyResult.Errors, ","))
	}
	if parent.Delegation != nil && len(parent.Delegation.Scope) > 0 {
		if !isSubsetScope(scope, parent.Delegation.Scope) {
			return nil, nil, "", errkit.New(errkit.ScopeExceeded, "requested scope exceeds parent scope")
		}
	}

	now := s.now()
	expiresAt := int64(0)
	if expiresIn > 0 {
		expiresAt = now + expiresIn.Milliseconds()
	}
	var warning string
	if parent.ExpiresAtMs > 0 && (expiresAt == 0 || expiresAt > parent.ExpiresAtMs) {
		expiresAt = parent.ExpiresAtMs
		warning = "requested expiry exceeds parent lct's expiry; clamped to parent expiry"
	}

	pub, priv, err := crypto.GenerateKeypair()
	if err != nil {
		return nil, nil, "", err
	}
	uri := NewURI("delegated", randomInstance(pub), "agent", "local")
	child := &LCT{
		URI:         uri.String(),
		Type:        TypeDelegated,
		Subject:     subject,
		Issuer:      parent.Subject,
		PublicKey:   pub,
		IssuedAtMs:  now,
		ExpiresAtMs: expiresAt,
		Delegation: &DelegationInfo{
			ParentID:      parentID,
			Scope:         append([]string(nil), scope...),
			Constraints:   constraints,
			DelegatedAtMs: now,
		},
	}
	if err := s.sign(child, priv); err != nil {
		return nil, nil, "", err
	}
	child.ID, err = crypto.HashOf(child.payload())
	if err != nil {
		return nil, nil, "", err
	}
	if err := s.put(child); err != nil {
		return nil, nil, "", err
	}
	s.indexChild(parentID, child.ID)
	return child, priv, warning, nil
}

func isSubsetScope(requested, allowed []string) bool {
	allowedSet := make(map[string]bool, len(allowed))
	for _, a := range allowed {
		allowedSet[a] = true
	}
	for _, r := range requested {
		if !allowedSet[r] {
			return false
		}
	}
	return true
}

// Witness records witnessPrivKey's attestation of subjectID's action.
// Both LCTs must verify; the witness record is appended in arrival order.
func (s *Store) Witness(subjectID, witnessID, action string, metadata map[string]string, witnessPrivKey crypto.PrivateKey) (*WitnessRecord, error) {
	subjectResult, err := s.Verify(subjectID)
	if err != nil {
		return nil, err
	}
	if !subjectResult.Valid {
		return nil, errkit.New(errkit.ParentInvalid, "subject lct invalid: "+strings.Join(subjectResult.Errors, ","))
	}
	witnessResult, err := s.Verify(witnessID)
	if err != nil {
		return nil, err
	}
	if !witnessResult.Valid {
		return nil, errkit.New(errkit.ParentInvalid, "witness lct invalid: "+strings.Join(witnessResult.Errors, ","))
	}

	payload := witnessPayload{SubjectLCT: subjectID, WitnessLCT: witnessID, Action: action, TimestampMs: s.now(), Metadata: metadata}
	enc, err := crypto.CanonicalEncode(payload)
	if err != nil {
		return nil, err
	}
	sig, err := crypto.Sign(enc, witnessPrivKey)
	if err != nil {
		return nil, err
	}
	id, err := crypto.HashOf(struct {
		witnessPayload
		Sig []byte
	}{payload, sig})
	if err != nil {
		return nil, err
	}
	record := &WitnessRecord{
		ID: id, SubjectLCT: subjectID, WitnessLCT: witnessID, Action: action,
		TimestampMs: payload.TimestampMs, Metadata: metadata, Signature: sig,
	}

	lock := s.lockFor(subjectID)
	lock.Lock()
	defer lock.Unlock()
	subject, ok, err := s.get(subjectID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errkit.New(errkit.NotFound, "subject lct not found: "+subjectID)
	}
	subject.Witnesses = append(subject.Witnesses, *record)
	if err := s.put(subject); err != nil {
		return nil, err
	}
	return record, nil
}

// ChainResult is the result of Chain: witnesses in arrival order plus the
// delegation ancestry up to (but not including) a detected cycle.
type ChainResult struct {
	Witnesses       []WitnessRecord `json:"witnesses"`
	DelegationChain []string        `json:"delegation_chain"`
}

// Chain returns the witness sequence and delegation ancestry for id.
// limit, when > 0, caps the number of witnesses returned (the most
// recent limit entries).
func (s *Store) Chain(id string, limit int) (ChainResult, error) {
	l, ok, err := s.get(id)
	if err != nil {
		return ChainResult{}, err
	}
	if !ok {
		return ChainResult{}, errkit.New(errkit.NotFound, "lct not found: "+id)
	}
	witnesses := l.Witnesses
	if limit > 0 && len(witnesses) > limit {
		witnesses = witnesses[len(witnesses)-limit:]
	}

	var chain []string
	seen := map[string]bool{id: true}
	cur := l
	for cur.Delegation != nil {
		parentID := cur.Delegation.ParentID
		if seen[parentID] {
			break // cycle guard; creation already rejects true cycles
		}
		seen[parentID] = true
		chain = append(chain, parentID)
		parent, ok, err := s.get(parentID)
		if err != nil {
			return ChainResult{}, err
		}
		if !ok {
			break
		}
		cur = parent
	}
	return ChainResult{Witnesses: witnesses, DelegationChain: chain}, nil
}

// QueryFilters narrows Query results; zero-valued fields are unfiltered.
type QueryFilters struct {
	SubjectContains string `json:"subject_contains,omitempty"`
	Type            Type   `json:"type,omitempty"`
	RevokedOnly     bool   `json:"revoked_only,omitempty"`
	ActiveOnly      bool   `json:"active_only,omitempty"`
}

// Query returns every LCT matching filters, sorted by ID for a stable,
// deterministic iteration order.
func (s *Store) Query(filters QueryFilters) ([]*LCT, error) {
	ids, err := s.kv.Keys(kvPrefix)
	if err != nil {
		return nil, err
	}
	sort.Strings(ids)
	var out []*LCT
	for _, key := range ids {
		var l LCT
		ok, err := s.kv.Get(key, &l)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		if filters.SubjectContains != "" && !strings.Contains(l.Subject, filters.SubjectContains) {
			continue
		}
		if filters.Type != "" && l.Type != filters.Type {
			continue
		}
		if filters.RevokedOnly && !l.Revocation.Revoked {
			continue
		}
		if filters.ActiveOnly && l.Revocation.Revoked {
			continue
		}
		cp := l
		out = append(out, &cp)
	}
	return out, nil
}

// PublicKeyHex is a convenience accessor for logging and diagnostics.
func (l *LCT) PublicKeyHex() string { return hex.EncodeToString(l.PublicKey) }
