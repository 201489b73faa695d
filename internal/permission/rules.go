// Package permission gates every tool side effect behind a rule list and the
// session's permission mode.
package permission

import (
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/bladecode/blade/pkg/types"
)

// Decision is the outcome of a permission check.
type Decision string

const (
	DecisionAllow Decision = "allow"
	DecisionAsk   Decision = "ask"
	DecisionDeny  Decision = "deny"
)

// Rule matches a tool name, optionally narrowed by a parameter matcher:
//
//	bash            matches every bash invocation
//	bash(git:*)     matches bash commands whose signature is "git:<anything>"
//	edit(**/*.go)   matches edits whose signature path matches the glob
//
// Matchers use doublestar glob syntax against the tool's signature content.
type Rule struct {
	Tool    string
	Matcher string // empty means match the tool name alone
}

// ParseRule parses the textual rule form used in config files.
func ParseRule(s string) Rule {
	s = strings.TrimSpace(s)
	open := strings.IndexByte(s, '(')
	if open < 0 || !strings.HasSuffix(s, ")") {
		return Rule{Tool: strings.ToLower(s)}
	}
	return Rule{
		Tool:    strings.ToLower(strings.TrimSpace(s[:open])),
		Matcher: s[open+1 : len(s)-1],
	}
}

// String returns the textual rule form.
func (r Rule) String() string {
	if r.Matcher == "" {
		return r.Tool
	}
	return r.Tool + "(" + r.Matcher + ")"
}

// Matches reports whether the rule covers the given tool and any of its
// signature strings.
func (r Rule) Matches(tool string, signatures []string) bool {
	if r.Tool != strings.ToLower(tool) {
		return false
	}
	if r.Matcher == "" {
		return true
	}
	for _, sig := range signatures {
		if ok, err := doublestar.Match(r.Matcher, sig); err == nil && ok {
			return true
		}
	}
	return false
}

// RuleSet holds the three disjoint decision classes. Rules are
// order-independent within a class; deny always wins over allow.
type RuleSet struct {
	Allow []Rule
	Ask   []Rule
	Deny  []Rule
}

// ParseRuleSet converts the config representation.
func ParseRuleSet(cfg *types.PermissionRules) RuleSet {
	var rs RuleSet
	if cfg == nil {
		return rs
	}
	for _, s := range cfg.Allow {
		rs.Allow = append(rs.Allow, ParseRule(s))
	}
	for _, s := range cfg.Ask {
		rs.Ask = append(rs.Ask, ParseRule(s))
	}
	for _, s := range cfg.Deny {
		rs.Deny = append(rs.Deny, ParseRule(s))
	}
	return rs
}

// withAllow returns a copy of the set with an extra allow rule appended.
func (rs RuleSet) withAllow(r Rule) RuleSet {
	out := RuleSet{
		Allow: make([]Rule, 0, len(rs.Allow)+1),
		Ask:   rs.Ask,
		Deny:  rs.Deny,
	}
	out.Allow = append(out.Allow, rs.Allow...)
	out.Allow = append(out.Allow, r)
	return out
}

func matchAny(rules []Rule, tool string, signatures []string) bool {
	for _, r := range rules {
		if r.Matches(tool, signatures) {
			return true
		}
	}
	return false
}
