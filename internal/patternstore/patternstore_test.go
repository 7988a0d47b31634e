package patternstore

import "testing"

func TestExactApprovalCache(t *testing.T) {
	s := Open()
	sig := Signature{ToolName: "bash", ContextKey: "cargo test in /home/x"}
	if s.IsExactApproved(sig) {
		t.Fatalf("unapproved signature should not be approved")
	}
	s.ApproveExact(sig, false)
	if !s.IsExactApproved(sig) {
		t.Fatalf("expected signature to be approved after ApproveExact")
	}
}

func TestPatternSpecificity(t *testing.T) {
	s := Open()
	s.AddPattern("bash", "cargo * in *", "generic", false)
	s.AddPattern("bash", "cargo test in /home/x", "specific", false)

	sig := Signature{ToolName: "bash", ContextKey: "cargo test in /home/x"}
	match, ok := s.MatchPattern(sig)
	if !ok {
		t.Fatalf("expected a pattern match")
	}
	if match.Pattern != "cargo test in /home/x" {
		t.Fatalf("expected the more specific (0-wildcard) pattern to win, got %q", match.Pattern)
	}
}

func TestPatternSpecificityOrderIndependent(t *testing.T) {
	s := Open()
	s.AddPattern("bash", "cargo test in /home/x", "specific", false)
	s.AddPattern("bash", "cargo * in *", "generic", false)

	sig := Signature{ToolName: "bash", ContextKey: "cargo test in /home/x"}
	match, _ := s.MatchPattern(sig)
	if match.Pattern != "cargo test in /home/x" {
		t.Fatalf("expected specific pattern regardless of registration order, got %q", match.Pattern)
	}
}

func TestPatternMatchIncrementsCount(t *testing.T) {
	s := Open()
	s.AddPattern("bash", "cargo *", "generic", false)
	sig := Signature{ToolName: "bash", ContextKey: "cargo build"}
	m1, _ := s.MatchPattern(sig)
	if m1.MatchCount != 1 {
		t.Fatalf("expected match_count 1, got %d", m1.MatchCount)
	}
	m2, _ := s.MatchPattern(sig)
	if m2.MatchCount != 2 {
		t.Fatalf("expected match_count 2, got %d", m2.MatchCount)
	}
}

func TestNoMatchWhenNothingRegistered(t *testing.T) {
	s := Open()
	_, ok := s.MatchPattern(Signature{ToolName: "bash", ContextKey: "anything"})
	if ok {
		t.Fatalf("expected no match with an empty pattern store")
	}
}

func TestGlobMatchNonPathContext(t *testing.T) {
	if !globMatch("cmd * in *", "cmd ls -la in /tmp") {
		t.Fatalf("expected glob to match non-path-like context key")
	}
}

func TestGlobMatchSuffixWildcard(t *testing.T) {
	if !globMatch("*.rs", "main.rs") {
		t.Fatalf("expected suffix wildcard to match")
	}
	if globMatch("*.rs", "main.go") {
		t.Fatalf("unexpected match for mismatched suffix")
	}
}
