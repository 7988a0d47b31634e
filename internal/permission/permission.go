// Package permission implements the policy layer that decides whether a
// tool invocation may run: an ordered list of rules plus a small set of
// constitutional constraints that no rule can override.
package permission

import (
	"encoding/json"
	"fmt"
	"net"
	"net/url"
	"path/filepath"
	"strings"
)

// Verdict is the outcome of a permission check.
type Verdict int

const (
	// Allow permits the tool call to run without confirmation.
	Allow Verdict = iota
	// AskUser means no rule settled the question; the caller must prompt.
	AskUser
	// Deny refuses the tool call outright.
	Deny
)

func (v Verdict) String() string {
	switch v {
	case Allow:
		return "allow"
	case AskUser:
		return "ask_user"
	case Deny:
		return "deny"
	default:
		return "unknown"
	}
}

// Check is the result of evaluating a tool use against the rule set.
type Check struct {
	Verdict Verdict
	Reason  string // populated for AskUser and Deny
}

// Predicate inspects a tool's raw JSON input and reports whether a rule
// applies to it. A nil predicate always matches.
type Predicate func(input json.RawMessage) bool

// Rule is one entry in the ordered policy list.
type Rule struct {
	ToolNameGlob string
	Predicate    Predicate
	Verdict      Verdict
	Reason       string // used when Verdict is AskUser or Deny
}

func (r Rule) matchesTool(name string) bool {
	matched, err := filepath.Match(r.ToolNameGlob, name)
	if err != nil {
		return r.ToolNameGlob == name
	}
	return matched
}

// Manager evaluates tool uses against an ordered rule list, a default
// verdict, and a set of constitutional constraints that cannot be
// overridden by any permissive rule.
type Manager struct {
	rules       []Rule
	defaultVerd Verdict
	workingDir  string
}

// NewManager creates a permission manager rooted at workingDir (used by the
// constitutional "no writes outside the working tree" rule). The default
// verdict for unmatched tool uses is AskUser, matching spec.md §4.F.
func NewManager(workingDir string) *Manager {
	return &Manager{
		defaultVerd: AskUser,
		workingDir:  workingDir,
	}
}

// WithDefault overrides the default verdict applied when no rule matches.
func (m *Manager) WithDefault(v Verdict) *Manager {
	m.defaultVerd = v
	return m
}

// AddRule appends a rule to the end of the evaluation order.
func (m *Manager) AddRule(r Rule) *Manager {
	m.rules = append(m.rules, r)
	return m
}

// Check evaluates a tool_name/input pair against the constitutional
// constraints first, then the configured rules in order, then the default.
func (m *Manager) Check(toolName string, input json.RawMessage) Check {
	if c, ok := m.constitutionalCheck(toolName, input); ok {
		return c
	}

	for _, rule := range m.rules {
		if !rule.matchesTool(toolName) {
			continue
		}
		if rule.Predicate != nil && !rule.Predicate(input) {
			continue
		}
		return Check{Verdict: rule.Verdict, Reason: rule.Reason}
	}

	reason := ""
	if m.defaultVerd == AskUser {
		reason = "no matching rule; confirmation required"
	}
	return Check{Verdict: m.defaultVerd, Reason: reason}
}

// constitutionalCheck enforces constraints that no permissive rule may
// override: no writes outside the working tree, no network fetch to
// private/loopback/link-local address ranges.
func (m *Manager) constitutionalCheck(toolName string, input json.RawMessage) (Check, bool) {
	switch toolName {
	case "write", "edit":
		if path, ok := stringField(input, "file", "path", "file_path"); ok {
			if !m.withinWorkingTree(path) {
				return Check{Verdict: Deny, Reason: fmt.Sprintf("write to %q is outside the working tree", path)}, true
			}
		}
	case "web_fetch":
		if raw, ok := stringField(input, "url"); ok {
			if denied, reason := denyPrivateURL(raw); denied {
				return Check{Verdict: Deny, Reason: reason}, true
			}
		}
	}
	return Check{}, false
}

func (m *Manager) withinWorkingTree(path string) bool {
	if path == "" {
		return true
	}
	root := m.workingDir
	if root == "" {
		return true
	}
	abs := path
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(root, path)
	}
	rootAbs, err := filepath.Abs(root)
	if err != nil {
		return true
	}
	absClean, err := filepath.Abs(abs)
	if err != nil {
		return true
	}
	rel, err := filepath.Rel(rootAbs, absClean)
	if err != nil {
		return false
	}
	return !strings.HasPrefix(rel, "..") && !filepath.IsAbs(rel)
}

// denyPrivateURL reports whether a URL's host is a literal private,
// loopback, or link-local IP address, or "localhost", and should be denied
// regardless of policy rules. Other host names are not resolved.
func denyPrivateURL(raw string) (bool, string) {
	parsed, err := url.Parse(raw)
	if err != nil {
		return false, ""
	}
	host := parsed.Hostname()
	if host == "" {
		return false, ""
	}
	ip := net.ParseIP(host)
	if ip == nil {
		// Hostname, not a literal IP — resolution happens at fetch time;
		// only literal private/loopback addresses are checked here.
		if host == "localhost" {
			return true, "network fetch to localhost is denied"
		}
		return false, ""
	}
	if ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() {
		return true, fmt.Sprintf("network fetch to private address %s is denied", ip.String())
	}
	return false, ""
}

// stringField extracts the first matching string field from a tool's raw
// JSON input, trying each key in order.
func stringField(input json.RawMessage, keys ...string) (string, bool) {
	if len(input) == 0 {
		return "", false
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(input, &m); err != nil {
		return "", false
	}
	for _, k := range keys {
		raw, ok := m[k]
		if !ok {
			continue
		}
		var s string
		if err := json.Unmarshal(raw, &s); err == nil && s != "" {
			return s, true
		}
	}
	return "", false
}
