package policy

// matchGlob reports whether value matches pattern, where '*' matches any
// run of characters (including spaces and slashes — targets are shell
// commands and URLs, not filesystem paths, so filepath.Match's
// separator-aware semantics don't apply) and '?' matches exactly one
// character. An empty pattern matches anything — the common case of
// "this rule doesn't care about target".
func matchGlob(pattern, value string) bool {
	if pattern == "" || pattern == "*" {
		return true
	}
	return wildcardMatch(pattern, value)
}

// wildcardMatch is the classic two-pointer glob matcher with
// backtracking on the most recent '*'.
func wildcardMatch(pattern, value string) bool {
	var pIdx, vIdx, starIdx, matched int
	starIdx = -1
	for vIdx < len(value) {
		switch {
		case pIdx < len(pattern) && (pattern[pIdx] == '?' || pattern[pIdx] == value[vIdx]):
			pIdx++
			vIdx++
		case pIdx < len(pattern) && pattern[pIdx] == '*':
			starIdx = pIdx
			matched = vIdx
			pIdx++
		case starIdx != -1:
			pIdx = starIdx + 1
			matched++
			vIdx = matched
		default:
			return false
		}
	}
	for pIdx < len(pattern) && pattern[pIdx] == '*' {
		pIdx++
	}
	return pIdx == len(pattern)
}
