package identity

import "trustcore/crypto"

// Type enumerates the LCT lifecycle categories named in SPEC_FULL.md §3.
type Type string

const (
	TypeRoot      Type = "root"
	TypeDevice    Type = "device"
	TypeSoftware  Type = "software"
	TypeSession   Type = "session"
	TypeDelegated Type = "delegated"
)

func (t Type) valid() bool {
	switch t {
	case TypeRoot, TypeDevice, TypeSoftware, TypeSession, TypeDelegated:
		return true
	default:
		return false
	}
}

// BindingType enumerates the supported hardware attestation kinds.
type BindingType string

const (
	BindingTPM           BindingType = "tpm"
	BindingSecureEnclave BindingType = "secure-enclave"
	BindingFIDO          BindingType = "fido"
	BindingSoftware      BindingType = "software"
)

// HardwareBinding is permanent once set: SPEC_FULL.md §3 forbids rebinding.
type HardwareBinding struct {
	Type        BindingType `json:"type"`
	DeviceID    string      `json:"device_id"`
	Attestation []byte      `json:"attestation,omitempty"`
	BoundAtMs   int64       `json:"bound_at_ms"`
}

// DelegationInfo is present only on delegated LCTs.
type DelegationInfo struct {
	ParentID    string            `json:"parent_id"`
	Scope       []string          `json:"scope,omitempty"`
	Constraints map[string]string `json:"constraints,omitempty"`
	DelegatedAtMs int64           `json:"delegated_at_ms"`
}

// RevocationState records whether and why an LCT has been revoked.
// Revocation is terminal and irreversible.
type RevocationState struct {
	Revoked     bool   `json:"revoked"`
	RevokedAtMs int64  `json:"revoked_at_ms,omitempty"`
	Reason      string `json:"reason,omitempty"`
}

// signingPayload is the canonically-encoded, signed portion of an LCT.
// Hardware binding and revocation state are side-band and deliberately
// excluded: binding never re-signs the body (SPEC_FULL.md §4.2) and
// revocation must remain provable against the original signature.
type signingPayload struct {
	URI         string          `json:"uri"`
	Type        Type            `json:"type"`
	Subject     string          `json:"subject"`
	Issuer      string          `json:"issuer"`
	PublicKey   crypto.PublicKey `json:"public_key"`
	IssuedAtMs  int64           `json:"issued_at_ms"`
	ExpiresAtMs int64           `json:"expires_at_ms,omitempty"`
	Delegation  *DelegationInfo `json:"delegation,omitempty"`
}

// LCT is a Linked Context Token: a signed, content-addressed identity
// object with optional hardware binding, delegation, revocation, and
// witnessing (SPEC_FULL.md §3).
type LCT struct {
	ID          string           `json:"id"`
	URI         string           `json:"uri"`
	Type        Type             `json:"type"`
	Subject     string           `json:"subject"`
	Issuer      string           `json:"issuer"`
	PublicKey   crypto.PublicKey `json:"public_key"`
	IssuedAtMs  int64            `json:"issued_at_ms"`
	ExpiresAtMs int64            `json:"expires_at_ms,omitempty"`
	Delegation  *DelegationInfo  `json:"delegation,omitempty"`
	Binding     *HardwareBinding `json:"binding,omitempty"`
	Revocation  RevocationState  `json:"revocation"`
	Signature   []byte           `json:"signature"`

	// Witnesses is kept in arrival order; no global ordering across
	// subjects is implied or required.
	Witnesses []WitnessRecord `json:"witnesses,omitempty"`
}

func (l *LCT) payload() signingPayload {
	return signingPayload{
		URI:         l.URI,
		Type:        l.Type,
		Subject:     l.Subject,
		Issuer:      l.Issuer,
		PublicKey:   l.PublicKey,
		IssuedAtMs:  l.IssuedAtMs,
		ExpiresAtMs: l.ExpiresAtMs,
		Delegation:  l.Delegation,
	}
}

// WitnessRecord is a signed attestation by one LCT about another's action
// or state (SPEC_FULL.md §3).
type WitnessRecord struct {
	ID          string            `json:"id"`
	SubjectLCT  string            `json:"subject_lct"`
	WitnessLCT  string            `json:"witness_lct"`
	Action      string            `json:"action_label"`
	TimestampMs int64             `json:"timestamp_ms"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	Signature   []byte            `json:"signature_by_witness"`
}

type witnessPayload struct {
	SubjectLCT  string            `json:"subject_lct"`
	WitnessLCT  string            `json:"witness_lct"`
	Action      string            `json:"action_label"`
	TimestampMs int64             `json:"timestamp_ms"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// VerifyResult is the result of Store.Verify.
type VerifyResult struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors,omitempty"`
}
