package identity

import (
	"fmt"
	"regexp"
	"strings"

	"trustcore/errkit"
)

// URI is the parsed form of an LCT identity URI:
//
//	lct://<component>:<instance>:<role>@<network>
//
// e.g. lct://claude-code:session-7f3a:reviewer@prod
type URI struct {
	Component string
	Instance  string
	Role      string
	Network   string
}

var (
	componentPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]*$`)
	namePattern       = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_-]*$`)
	networkPattern    = regexp.MustCompile(`^[a-z0-9][a-z0-9-]*$`)
	authorityPattern  = regexp.MustCompile(`^([a-z0-9][a-z0-9-]*):([a-zA-Z0-9][a-zA-Z0-9_-]*):([a-zA-Z0-9][a-zA-Z0-9_-]*)@([a-z0-9][a-z0-9-]*)$`)
)

// ParseURI parses and validates an lct:// URI.
func ParseURI(raw string) (*URI, error) {
	if !strings.HasPrefix(raw, "lct://") {
		return nil, errkit.New(errkit.InvalidInput, fmt.Sprintf("uri must start with lct://: %q", raw))
	}
	authority := raw[len("lct://"):]
	matches := authorityPattern.FindStringSubmatch(authority)
	if matches == nil {
		return nil, errkit.New(errkit.InvalidInput, fmt.Sprintf("malformed lct authority: %q", authority))
	}
	uri := &URI{Component: matches[1], Instance: matches[2], Role: matches[3], Network: matches[4]}
	if !componentPattern.MatchString(uri.Component) {
		return nil, errkit.New(errkit.InvalidInput, "invalid component: "+uri.Component)
	}
	if !namePattern.MatchString(uri.Instance) {
		return nil, errkit.New(errkit.InvalidInput, "invalid instance: "+uri.Instance)
	}
	if !namePattern.MatchString(uri.Role) {
		return nil, errkit.New(errkit.InvalidInput, "invalid role: "+uri.Role)
	}
	if !networkPattern.MatchString(uri.Network) {
		return nil, errkit.New(errkit.InvalidInput, "invalid network: "+uri.Network)
	}
	return uri, nil
}

// String renders the canonical lct:// form.
func (u *URI) String() string {
	return fmt.Sprintf("lct://%s:%s:%s@%s", u.Component, u.Instance, u.Role, u.Network)
}

// NewURI builds a URI for a freshly minted LCT. instance is normally a
// short random suffix so repeated creates for the same (component, role)
// don't collide.
func NewURI(component, instance, role, network string) *URI {
	if network == "" {
		network = "local"
	}
	return &URI{Component: component, Instance: instance, Role: role, Network: network}
}
