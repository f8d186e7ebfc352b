package policy

// safetyRules is the matcher list shared by the safety and audit-only
// presets (spec: "audit-only ... same matchers as safety, but
// enforce=false"). Matching is almost entirely Tool/TargetGlob since
// nothing in the core assigns action a canonical category string.
func safetyRules() []Rule {
	return []Rule{
		{ToolGlob: "Bash", TargetGlob: "rm -rf*", Decision: Deny, Reason: "destructive bash"},
		{TargetGlob: "*secret*", Decision: Deny, Reason: "secrets read/write"},
		{ToolGlob: "Net", Decision: Warn, Reason: "network egress"},
		{TargetGlob: "http*", Decision: Warn, Reason: "network egress"},
	}
}

// builtinRuleSet returns the ordered rule set and default decision for a
// preset, exactly as catalogued in SPEC_FULL.md §4.5.
func builtinRuleSet(preset Preset) (RuleSet, bool) {
	switch preset {
	case PresetPermissive:
		return RuleSet{SchemaVersion: SchemaVersion, DefaultDecision: Allow}, true
	case PresetSafety:
		return RuleSet{
			SchemaVersion:   SchemaVersion,
			Rules:           safetyRules(),
			DefaultDecision: Allow,
		}, true
	case PresetStrict:
		return RuleSet{
			SchemaVersion: SchemaVersion,
			Rules: []Rule{
				{ToolGlob: "Read", Decision: Allow, Reason: "whitelisted tool"},
				{ToolGlob: "Glob", Decision: Allow, Reason: "whitelisted tool"},
				{ToolGlob: "Grep", Decision: Allow, Reason: "whitelisted tool"},
				{ToolGlob: "TodoWrite", Decision: Allow, Reason: "whitelisted tool"},
			},
			DefaultDecision: Deny,
		}, true
	case PresetAuditOnly:
		return RuleSet{
			SchemaVersion:   SchemaVersion,
			Rules:           safetyRules(),
			DefaultDecision: Allow,
		}, true
	default:
		return RuleSet{}, false
	}
}

// builtinEnforceFlag returns the enforce_flag for a preset: false means
// a deny decision is softened to warn (advisory mode).
func builtinEnforceFlag(preset Preset) bool {
	switch preset {
	case PresetSafety, PresetStrict:
		return true
	default:
		return false
	}
}

// Presets lists the four built-in preset names in catalogue order.
func Presets() []Preset {
	return []Preset{PresetPermissive, PresetSafety, PresetStrict, PresetAuditOnly}
}
