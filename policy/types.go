// Package policy implements component C5: the rule-based decision engine
// that governs which actions a session may take, built from immutable,
// content-addressed policy entities.
package policy

// SchemaVersion pins the rule grammar. A future incompatible grammar
// change bumps this constant and content-hashing separates old and new
// rule sets into distinct policy entity ids automatically.
const SchemaVersion = 1

// Decision is the outcome of evaluating a policy against one action.
type Decision string

const (
	Allow Decision = "allow"
	Deny  Decision = "deny"
	Warn  Decision = "warn"
)

// Rule is one ordered matcher in a rule set. ToolGlob, CategoryGlob, and
// TargetGlob are '*'/'?' wildcard patterns (see glob.go) matched against
// the tool name, caller-supplied category, and action target
// respectively. Empty globs match anything; built-in presets classify
// almost entirely on ToolGlob/TargetGlob since nothing in the core
// assigns a canonical category string to an action.
type Rule struct {
	ToolGlob     string   `json:"tool_glob" yaml:"tool_glob"`
	CategoryGlob string   `json:"category_glob" yaml:"category_glob"`
	TargetGlob   string   `json:"target_glob" yaml:"target_glob"`
	Decision     Decision `json:"decision" yaml:"decision"`
	Reason       string   `json:"reason" yaml:"reason"`
}

// RuleSet is the versioned, ordered list of rules a policy entity
// evaluates in sequence; first match wins.
type RuleSet struct {
	SchemaVersion   int      `json:"schema_version" yaml:"schema_version"`
	Rules           []Rule   `json:"rules" yaml:"rules"`
	DefaultDecision Decision `json:"default_decision" yaml:"default_decision"`
}

// Preset names the four built-in catalogue entries.
type Preset string

const (
	PresetPermissive Preset = "permissive"
	PresetSafety     Preset = "safety"
	PresetStrict     Preset = "strict"
	PresetAuditOnly  Preset = "audit-only"
)

// Entity is an immutable, content-addressed policy: once registered its
// id never changes; a new rule set or preset mints a new entity.
type Entity struct {
	EntityID    string  `json:"entity_id"`
	Name        string  `json:"name"`
	Version     int     `json:"version"`
	Preset      Preset  `json:"preset,omitempty"`
	RuleSet     RuleSet `json:"rule_set"`
	EnforceFlag bool    `json:"enforce_flag"`
	CreatedAtMs int64   `json:"created_at_ms"`
}

// EvalResult is the return value of Evaluate.
type EvalResult struct {
	Decision     Decision `json:"decision"`
	Reason       string   `json:"reason"`
	RawDecision  Decision `json:"raw_decision,omitempty"`
	AdvisoryOnly bool     `json:"advisory_only"`
}
