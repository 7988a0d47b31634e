package memclassify

import (
	"strings"
	"testing"
)

func TestClassifyNoise(t *testing.T) {
	cases := []string{"ok", "Thanks!", "got it", "sure.", "understood"}
	for _, c := range cases {
		if _, _, ok := Classify("user", c); ok {
			t.Errorf("expected %q to be classified as noise", c)
		}
	}
}

func TestClassifyShortContentIsNoise(t *testing.T) {
	if _, _, ok := Classify("user", "short msg"); ok {
		t.Fatal("expected content under 20 chars to be discarded")
	}
}

func TestClassifySystemIsAlwaysCritical(t *testing.T) {
	_, importance, ok := Classify("system", "this is an explicit memory entry")
	if !ok {
		t.Fatal("expected system message to be stored")
	}
	if importance != Critical {
		t.Fatalf("expected Critical, got %v", importance)
	}
}

func TestClassifyCriticalMarkers(t *testing.T) {
	_, importance, ok := Classify("user", "we decided to use postgres for the new service")
	if !ok || importance != Critical {
		t.Fatalf("expected Critical classification, got ok=%v importance=%v", ok, importance)
	}
}

func TestClassifyHighMarkers(t *testing.T) {
	_, importance, ok := Classify("assistant", "the handler lives in internal/tools/edit.go and is defined there")
	if !ok || importance != High {
		t.Fatalf("expected High classification, got ok=%v importance=%v", ok, importance)
	}
}

func TestClassifyNormal(t *testing.T) {
	_, importance, ok := Classify("user", "can you explain how garbage collection works in general terms")
	if !ok {
		t.Fatal("expected message to be stored")
	}
	if importance != Normal {
		t.Fatalf("expected Normal, got %v", importance)
	}
}

func TestRetrievalBoostOrdering(t *testing.T) {
	if !(Critical.RetrievalBoost() > High.RetrievalBoost() && High.RetrievalBoost() > Normal.RetrievalBoost() && Normal.RetrievalBoost() > Discard.RetrievalBoost()) {
		t.Fatal("expected strictly increasing retrieval boost Discard < Normal < High < Critical")
	}
}

func TestExtractTruncatesLongAssistantResponse(t *testing.T) {
	long := ""
	for i := 0; i < 50; i++ {
		long += "This is a long sentence about the system. "
	}
	stored, _, ok := Classify("assistant", long)
	if !ok {
		t.Fatal("expected long content to be stored")
	}
	if len(stored) > maxChars+1 {
		t.Fatalf("expected truncation near %d chars, got %d", maxChars, len(stored))
	}
}

func TestExtractStripsCodeFences(t *testing.T) {
	content := "Here is the explanation of the fix in long detail so it exceeds the cap.\n" +
		"```go\nfunc main() {}\n```\n" +
		"And more prose after the fence that keeps going to push the total length well past the three hundred character truncation threshold so that extraction logic actually has to run on it." +
		" It keeps going with one more sentence so the whole message clearly runs past the cap."
	stored, _, ok := Classify("assistant", content)
	if !ok {
		t.Fatal("expected content to be stored")
	}
	if len(content) > maxChars && len(stored) > maxChars+1 {
		t.Fatalf("expected stored content to respect max char cap, got len %d", len(stored))
	}
	if strings.Contains(stored, "```") {
		t.Fatalf("expected code fences to be stripped from stored content, got %q", stored)
	}
}
