// Package ledger implements component C4: the per-session, hash-chained
// R6 audit ledger, its rate limiter, session lifecycle, and queries.
package ledger

// Status is the terminal result of one governed action.
type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
	StatusDenied  Status = "denied"
	StatusPartial Status = "partial"
)

// Rules is the R6 "Rules" component: which policy governed the decision.
type Rules struct {
	PresetName      string `json:"preset_name,omitempty"`
	PolicyEntityID  string `json:"policy_entity_id,omitempty"`
	EnforceFlag     bool   `json:"enforce_flag"`
}

// Reference is the R6 "Reference" component: the hash-chain linkage.
type Reference struct {
	PrevRecordHash string `json:"prev_record_hash"`
	PrevR6ID       string `json:"prev_r6_id,omitempty"`
}

// Result is the R6 "Result" component.
type Result struct {
	Status     Status `json:"status"`
	OutputHash string `json:"output_hash,omitempty"`
	DurationMs int64  `json:"duration_ms"`
}

// Record is one R6 audit entry: Rules + Role + Request + Reference +
// Resource -> Result, hash-chained to its predecessor.
type Record struct {
	RecordID      string    `json:"record_id"`
	R6RequestID   string    `json:"r6_request_id"`
	SessionID     string    `json:"session_id"`
	ActionIndex   int64     `json:"action_index"`
	ToolName      string    `json:"tool_name"`
	Category      string    `json:"category"`
	Target        string    `json:"target"`
	Rules         Rules     `json:"rules"`
	Role          string    `json:"role"`
	Reference     Reference `json:"reference"`
	ResourceCost  *float64  `json:"resource_cost,omitempty"`
	Result        Result    `json:"result"`
	TimestampMs   int64     `json:"timestamp_ms"`
	ProvenanceHash string   `json:"provenance_hash"`
}

// signingFields is the subset of Record the provenance hash commits to:
// every field except ProvenanceHash itself.
type signingFields struct {
	RecordID     string    `json:"record_id"`
	R6RequestID  string    `json:"r6_request_id"`
	SessionID    string    `json:"session_id"`
	ActionIndex  int64     `json:"action_index"`
	ToolName     string    `json:"tool_name"`
	Category     string    `json:"category"`
	Target       string    `json:"target"`
	Rules        Rules     `json:"rules"`
	Role         string    `json:"role"`
	Reference    Reference `json:"reference"`
	ResourceCost *float64  `json:"resource_cost,omitempty"`
	Result       Result    `json:"result"`
	TimestampMs  int64     `json:"timestamp_ms"`
}

func (r *Record) signingFields() signingFields {
	return signingFields{
		RecordID: r.RecordID, R6RequestID: r.R6RequestID, SessionID: r.SessionID,
		ActionIndex: r.ActionIndex, ToolName: r.ToolName, Category: r.Category, Target: r.Target,
		Rules: r.Rules, Role: r.Role, Reference: r.Reference, ResourceCost: r.ResourceCost,
		Result: r.Result, TimestampMs: r.TimestampMs,
	}
}

// Session is a governed sequence of R6 records anchored by a seed hash.
type Session struct {
	SessionID            string `json:"session_id"`
	Project              string `json:"project"`
	ProjectSeq           int64  `json:"project_seq"`
	StartedAtMs          int64  `json:"started_at_ms"`
	SeedHash             string `json:"seed_hash"`
	ActionBudget         int64  `json:"action_budget"`
	ActionsTaken         int64  `json:"actions_taken"`
	ActivePolicyEntityID string `json:"active_policy_entity_id,omitempty"`
	LastRecordHash       string `json:"last_record_hash"`
	LastTimestampMs      int64  `json:"last_timestamp_ms"`
	Closed               bool   `json:"closed"`
}

// AppendInput is everything a caller supplies for Engine.Append; the
// engine fills in action_index, hashes, and timestamps.
type AppendInput struct {
	R6RequestID    string   `json:"r6_request_id,omitempty"`
	ToolName       string   `json:"tool_name"`
	Category       string   `json:"category"`
	Target         string   `json:"target"`
	Role           string   `json:"role,omitempty"`
	PresetName     string   `json:"preset_name,omitempty"`
	PolicyEntityID string   `json:"policy_entity_id,omitempty"`
	EnforceFlag    bool     `json:"enforce_flag"`
	ResourceCost   *float64 `json:"resource_cost,omitempty"`
	Result         Result   `json:"result"`
}

// RateLimitResult is the return value of Engine.RateLimitCheck.
type RateLimitResult struct {
	Allowed bool  `json:"allowed"`
	Remaining int `json:"remaining"`
	ResetAtMs int64 `json:"reset_at_ms"`
}

// VerifyChainResult is the return value of Engine.VerifyChain.
type VerifyChainResult struct {
	Valid         bool   `json:"valid"`
	FirstBadIndex *int64 `json:"first_bad_index,omitempty"`
	Reason        string `json:"reason,omitempty"`
}

// PolicyWitnessLink records one witness relationship involving a policy
// entity: either a session attesting it used the policy ("session
// witnesses policy") or the policy attesting a decision it produced
// ("policy witnesses decision"). Policy entities have no signing
// keypair, so this is a plain append-only link rather than a signed
// WitnessRecord as identity LCTs use.
type PolicyWitnessLink struct {
	ID             string `json:"id"`
	PolicyEntityID string `json:"policy_entity_id"`
	Subject        string `json:"subject"`
	Kind           string `json:"kind"`
	Decision       string `json:"decision"`
	Success        *bool  `json:"success,omitempty"`
	TimestampMs    int64  `json:"timestamp_ms"`
}

// Heartbeat is a lightweight timing-coherence ping.
type Heartbeat struct {
	SessionID   string `json:"session_id"`
	Sequence    int64  `json:"sequence"`
	TimestampMs int64  `json:"timestamp_ms"`
	JitterMs    int64  `json:"jitter_ms"`
}

// ReferenceRecord is a durable annotation a host attaches to a session or
// LCT; read-only to the core once written.
type ReferenceRecord struct {
	RefID       string `json:"ref_id"`
	SessionID   string `json:"session_id,omitempty"`
	SubjectLCT  string `json:"subject_lct,omitempty"`
	Note        string `json:"note"`
	CreatedAtMs int64  `json:"created_at_ms"`
}

// QueryFilters narrows Engine.Query results; zero-valued fields are
// unfiltered.
type QueryFilters struct {
	SessionID string `json:"session_id,omitempty"`
	ToolName  string `json:"tool_name,omitempty"`
	Category  string `json:"category,omitempty"`
	Status    Status `json:"status,omitempty"`
	Target    string `json:"target,omitempty"`
	SinceMs   int64  `json:"since_ms,omitempty"`
	Limit     int    `json:"limit,omitempty"`
}

// Stats is the return value of Engine.Stats.
type Stats struct {
	TotalRecords  int            `json:"total_records"`
	ByTool        map[string]int `json:"by_tool"`
	ByCategory    map[string]int `json:"by_category"`
	ByStatus      map[string]int `json:"by_status"`
	DurationP50Ms float64        `json:"duration_p50_ms"`
	DurationP95Ms float64        `json:"duration_p95_ms"`
	DurationP99Ms float64        `json:"duration_p99_ms"`
}

// ToolStat is one entry in Report's per-tool breakdown.
type ToolStat struct {
	Tool          string  `json:"tool"`
	Count         int     `json:"count"`
	SuccessRate   float64 `json:"success_rate"`
	AvgDurationMs float64 `json:"avg_duration_ms"`
}

// ErrorStat is one entry in Report's top-k error breakdown.
type ErrorStat struct {
	Target string `json:"target"`
	Count  int    `json:"count"`
}

// TimelineBucket is one minute-granularity bucket in Report's timeline.
type TimelineBucket struct {
	MinuteMs int64 `json:"minute_ms"`
	Count    int   `json:"count"`
}

// Report is a purely-derived structured summary over a set of records.
type Report struct {
	ToolStats       []ToolStat       `json:"tool_stats"`
	CategoryCounts  map[string]int   `json:"category_counts"`
	PolicyStats     map[string]int   `json:"policy_stats"`
	TopErrors       []ErrorStat      `json:"top_errors"`
	Timeline        []TimelineBucket `json:"timeline"`
}
