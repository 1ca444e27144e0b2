package ensemble

import (
	"encoding/json"
	"fmt"
	"os"
)

// RuleConfig is the on-disk form of a Rule:
//
//	{"PHONE_NUMBER": {"min_score": 0.7, "denylist": [], "allowlist": []}}
//
// Lists extend the defaults for the type; min_score replaces the default.
type RuleConfig struct {
	MinScore  *float64 `json:"min_score,omitempty"`
	Denylist  []string `json:"denylist,omitempty"`
	Allowlist []string `json:"allowlist,omitempty"`
	Blocked   bool     `json:"blocked,omitempty"`
}

// LoadPolicy reads a rule configuration file and layers it over DefaultPolicy.
// An empty path returns the default policy.
func LoadPolicy(path string) (*Policy, error) {
	if path == "" {
		return DefaultPolicy(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("ensemble: read policy %s: %w", path, err)
	}
	return ParsePolicy(data)
}

// ParsePolicy decodes a rule configuration and layers it over DefaultPolicy.
func ParsePolicy(data []byte) (*Policy, error) {
	var raw map[string]RuleConfig
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("ensemble: parse policy: %w", err)
	}
	p := DefaultPolicy()
	for label, rc := range raw {
		t := NormalizeLabel(label)
		if t == "" {
			return nil, fmt.Errorf("ensemble: policy has an empty entity type")
		}
		if rc.Blocked {
			p.Blocked[t] = struct{}{}
			continue
		}
		delete(p.Blocked, t)

		rule, ok := p.Rules[t]
		if !ok {
			rule = Rule{MinScore: p.Default.MinScore}
		}
		if rc.MinScore != nil {
			if *rc.MinScore < 0 || *rc.MinScore > 1 {
				return nil, fmt.Errorf("ensemble: min_score %v for %s outside [0,1]", *rc.MinScore, t)
			}
			rule.MinScore = *rc.MinScore
		}
		rule.Denylist = cloneSet(rule.Denylist)
		rule.Allowlist = cloneSet(rule.Allowlist)
		rule.AddDenied(rc.Denylist...)
		rule.AddAllowed(rc.Allowlist...)
		p.Rules[t] = rule
	}
	return p, nil
}

func cloneSet(in map[string]struct{}) map[string]struct{} {
	out := make(map[string]struct{}, len(in))
	for k := range in {
		out[k] = struct{}{}
	}
	return out
}
