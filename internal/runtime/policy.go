package runtime

import (
	"encoding/json"
	"os"
	"strings"
)

// Action is what the runtime does when a tool call matches a rule.
type Action string

const (
	ActionAllow Action = "allow"
	ActionAsk   Action = "ask"
	ActionDeny  Action = "deny"
)

// Rule maps a tool-name pattern to an action. Patterns are either an exact
// tool name, a prefix ending in "*", or a bare "*" matching everything.
type Rule struct {
	Pattern string `json:"pattern"`
	Action  Action `json:"action"`
}

// Policy is the permission document handed to a runtime process at launch.
type Policy struct {
	Rules []Rule `json:"rules"`
}

// NewPolicy builds a policy from base rules.
func NewPolicy(rules []Rule) *Policy {
	return &Policy{Rules: rules}
}

// WithDecisions returns a copy of the policy with cached per-session
// decisions prepended as exact-tool rules. A cached decision outranks every
// base rule for that tool, including more specific base patterns.
func (p *Policy) WithDecisions(decisions map[string]Action) *Policy {
	if len(decisions) == 0 {
		return p
	}

	merged := &Policy{Rules: make([]Rule, 0, len(decisions)+len(p.Rules))}
	for tool, action := range decisions {
		merged.Rules = append(merged.Rules, Rule{Pattern: tool, Action: action})
	}
	merged.Rules = append(merged.Rules, p.Rules...)
	return merged
}

// Resolve returns the action for a tool name. Exact patterns win over
// wildcard prefixes, longer prefixes win over shorter ones, and the bare
// "*" matches last. Ties go to the earlier rule. Unmatched tools ask.
func (p *Policy) Resolve(tool string) Action {
	best := -1
	action := ActionAsk

	for _, r := range p.Rules {
		score, ok := matchScore(r.Pattern, tool)
		if !ok {
			continue
		}
		if score > best {
			best = score
			action = r.Action
		}
	}
	return action
}

// matchScore reports whether pattern matches tool and how specific the
// match is. Exact matches always outrank prefix matches.
func matchScore(pattern, tool string) (int, bool) {
	if pattern == "*" {
		return 0, true
	}
	if strings.HasSuffix(pattern, "*") {
		prefix := strings.TrimSuffix(pattern, "*")
		if strings.HasPrefix(tool, prefix) {
			return 1 + len(prefix), true
		}
		return 0, false
	}
	if pattern == tool {
		return 1 << 16, true
	}
	return 0, false
}

// Write serializes the policy document to path.
func (p *Policy) Write(path string) error {
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}
