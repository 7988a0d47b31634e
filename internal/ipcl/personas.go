package ipcl

import "strings"

var securityKeywords = []string{
	"auth", "jwt", "token", "secret", "api_key", "apikey", "password",
	"permission", "role", "bearer", "crypto", "encrypt", "decrypt", "tls",
	"ssl", "https", "certificate", "hash", "hmac", "session", "csrf",
	"cors", "oauth", "saml",
}

var architectureKeywords = []string{
	"refactor", "module", "mod ", "pub mod", "crate", "dependency",
	"struct ", "trait ", "interface", "abstraction", "impl ", "pub ",
	"pub(crate)", "architecture", "layer", "separation",
}

// SelectActivePersonas returns the set of critique personas active for a
// plan draft. Six are always present: Regression, Edge Cases,
// Completeness, Tests & Docs, Repo Hygiene, Git Discipline. Security,
// Architecture, and Scope Creep activate conditionally on the draft's
// content.
func SelectActivePersonas(planText string) []string {
	lower := strings.ToLower(planText)

	personas := []string{
		"Regression",
		"Edge Cases",
		"Completeness",
		"Tests & Docs",
		"Repo Hygiene",
		"Git Discipline",
	}

	for _, kw := range securityKeywords {
		if strings.Contains(lower, kw) {
			personas = append(personas, "Security")
			break
		}
	}

	for _, kw := range architectureKeywords {
		if strings.Contains(lower, kw) {
			personas = append(personas, "Architecture")
			break
		}
	}

	if countNumberedSteps(planText) > 6 {
		personas = append(personas, "Scope Creep")
	}

	return personas
}

// countNumberedSteps counts lines that, after leading whitespace, begin
// with an ASCII digit (numbered steps like "1.", "2.", "10.").
func countNumberedSteps(text string) int {
	count := 0
	for _, line := range strings.Split(text, "\n") {
		t := strings.TrimLeft(line, " \t")
		if t == "" {
			continue
		}
		if t[0] >= '0' && t[0] <= '9' {
			count++
		}
	}
	return count
}
