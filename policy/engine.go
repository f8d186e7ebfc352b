package policy

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"trustcore/crypto"
	"trustcore/errkit"
)

// NewPresetEntity mints an immutable entity from one of the four built-in
// presets. version should be 1 for a preset's first registration under a
// given name; callers bump it to re-register under a new name/version.
func NewPresetEntity(name string, preset Preset, version int, now int64) (*Entity, error) {
	ruleSet, ok := builtinRuleSet(preset)
	if !ok {
		return nil, errkit.New(errkit.InvalidInput, "unknown preset: "+string(preset))
	}
	return newEntity(name, preset, ruleSet, builtinEnforceFlag(preset), version, now)
}

// NewCustomEntity mints an entity from an operator-supplied rule set.
func NewCustomEntity(name string, ruleSet RuleSet, enforceFlag bool, version int, now int64) (*Entity, error) {
	if ruleSet.SchemaVersion == 0 {
		ruleSet.SchemaVersion = SchemaVersion
	}
	if ruleSet.SchemaVersion != SchemaVersion {
		return nil, errkit.New(errkit.InvalidInput, fmt.Sprintf("unsupported rule set schema version %d", ruleSet.SchemaVersion))
	}
	if ruleSet.DefaultDecision == "" {
		return nil, errkit.New(errkit.InvalidInput, "default_decision is required")
	}
	return newEntity(name, "", ruleSet, enforceFlag, version, now)
}

func newEntity(name string, preset Preset, ruleSet RuleSet, enforceFlag bool, version int, now int64) (*Entity, error) {
	if name == "" {
		return nil, errkit.New(errkit.InvalidInput, "policy name is required")
	}
	if version <= 0 {
		version = 1
	}
	contentHash, err := crypto.HashOf(struct {
		Name    string
		Version int
		RuleSet RuleSet
		Enforce bool
	}{name, version, ruleSet, enforceFlag})
	if err != nil {
		return nil, err
	}
	shortHash := contentHash
	if len(shortHash) > 16 {
		shortHash = shortHash[:16]
	}
	return &Entity{
		EntityID:    fmt.Sprintf("policy:%s:%d:%s", name, version, shortHash),
		Name:        name,
		Version:     version,
		Preset:      preset,
		RuleSet:     ruleSet,
		EnforceFlag: enforceFlag,
		CreatedAtMs: now,
	}, nil
}

// LoadRuleSetFile loads an operator-authored YAML rule set file.
func LoadRuleSetFile(path string) (RuleSet, bool, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return RuleSet{}, false, errkit.Wrap(errkit.CorruptState, "read rule set file "+path, err)
	}
	var doc struct {
		RuleSet     RuleSet `yaml:"rule_set"`
		EnforceFlag bool    `yaml:"enforce_flag"`
	}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return RuleSet{}, false, errkit.Wrap(errkit.InvalidInput, "parse rule set file "+path, err)
	}
	if doc.RuleSet.SchemaVersion == 0 {
		doc.RuleSet.SchemaVersion = SchemaVersion
	}
	return doc.RuleSet, doc.EnforceFlag, nil
}

// Evaluate walks entity's rule set in order and returns the first
// matching decision, softened from deny to warn when EnforceFlag is
// false. A rule with an unrecognized decision value fails closed in
// enforcing mode and fails open (with a warning) in advisory mode.
func Evaluate(entity *Entity, tool, category, target string) EvalResult {
	for _, rule := range entity.RuleSet.Rules {
		if !matchGlob(rule.ToolGlob, tool) {
			continue
		}
		if !matchGlob(rule.CategoryGlob, category) {
			continue
		}
		if !matchGlob(rule.TargetGlob, target) {
			continue
		}
		return resolve(entity, rule.Decision, rule.Reason)
	}
	return resolve(entity, entity.RuleSet.DefaultDecision, "default")
}

func resolve(entity *Entity, raw Decision, reason string) EvalResult {
	switch raw {
	case Allow, Deny, Warn:
	default:
		if entity.EnforceFlag {
			return EvalResult{Decision: Deny, Reason: "policy error", RawDecision: raw}
		}
		return EvalResult{Decision: Warn, Reason: "policy error", RawDecision: raw, AdvisoryOnly: true}
	}

	if raw == Deny && !entity.EnforceFlag {
		return EvalResult{Decision: Warn, Reason: reason, RawDecision: raw, AdvisoryOnly: true}
	}
	return EvalResult{Decision: raw, Reason: reason, RawDecision: raw}
}
