// Package patternstore implements the two-level tool-approval cache:
// exact signature approvals and glob-pattern approvals, each either
// session-scoped or persistent.
package patternstore

import (
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite" // register sqlite driver
)

// Signature is the cache key derived from a tool invocation: the tool's
// name plus a canonical context_key built by the caller (e.g. "cmd in cwd"
// for shell tools, a file path for file tools, a URL for network tools).
type Signature struct {
	ToolName   string
	ContextKey string
}

// Pattern is a glob-pattern approval: "*" matches any run of characters
// within the context_key, "/" included; path-like context keys get no
// special treatment. More specific patterns (fewer wildcards) win; ties
// break by most recent CreatedAt.
type Pattern struct {
	ID         string
	ToolName   string
	Pattern    string
	Reason     string
	MatchCount int
	CreatedAt  time.Time
	Persistent bool
}

func (p Pattern) wildcardCount() int {
	return strings.Count(p.Pattern, "*")
}

// matches reports whether the pattern's glob matches a context key.
// "/" is not treated as special: "*" greedily matches any run of
// characters, including "/", in path-like and non-path-like context keys
// alike.
func (p Pattern) matches(contextKey string) bool {
	return globMatch(p.Pattern, contextKey)
}

// globMatch implements "*"-only glob matching with no path-separator
// special-casing. path/filepath.Match is not used here: it treats "/" as
// special, which would silently misbehave on non-path context keys like
// "cmd in cwd" strings that spec.md's glob semantics must also cover.
func globMatch(pattern, s string) bool {
	segments := strings.Split(pattern, "*")
	if len(segments) == 1 {
		return pattern == s
	}

	if !strings.HasPrefix(s, segments[0]) {
		return false
	}
	s = s[len(segments[0]):]

	for i := 1; i < len(segments)-1; i++ {
		seg := segments[i]
		if seg == "" {
			continue
		}
		idx := strings.Index(s, seg)
		if idx < 0 {
			return false
		}
		s = s[idx+len(seg):]
	}

	last := segments[len(segments)-1]
	return strings.HasSuffix(s, last)
}

// Store holds session and persistent approvals. Two sqlite-backed tables,
// exact_approvals and patterns, record persistent entries (exactPer and
// each Pattern's Persistent flag mark which ones, mirroring internal/store's
// cache shape); session-only entries live only in memory and vanish on
// restart.
type Store struct {
	mu sync.Mutex

	exact    map[Signature]bool // true => approved (persistent or session)
	exactPer map[Signature]bool // true => the exact approval is persistent

	patterns []Pattern

	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS exact_approvals (
	tool_name   TEXT NOT NULL,
	context_key TEXT NOT NULL,
	PRIMARY KEY (tool_name, context_key)
);

CREATE TABLE IF NOT EXISTS patterns (
	id          TEXT PRIMARY KEY,
	tool_name   TEXT NOT NULL,
	pattern     TEXT NOT NULL,
	reason      TEXT NOT NULL,
	match_count INTEGER NOT NULL,
	created_at  INTEGER NOT NULL
);
`

// Open creates an in-memory store with no persistence backing.
func Open() *Store {
	return &Store{
		exact:    make(map[Signature]bool),
		exactPer: make(map[Signature]bool),
	}
}

// OpenWithDB creates a store backed by a sqlite database at dbPath for
// persistent approvals, loading any existing entries.
func OpenWithDB(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open pattern store db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create pattern store schema: %w", err)
	}
	s := &Store{
		exact:    make(map[Signature]bool),
		exactPer: make(map[Signature]bool),
		db:       db,
	}
	if err := s.load(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) load() error {
	rows, err := s.db.Query("SELECT tool_name, context_key FROM exact_approvals")
	if err != nil {
		return err
	}
	for rows.Next() {
		var sig Signature
		if err := rows.Scan(&sig.ToolName, &sig.ContextKey); err != nil {
			rows.Close()
			return err
		}
		s.exact[sig] = true
		s.exactPer[sig] = true
	}
	rows.Close()

	prows, err := s.db.Query("SELECT id, tool_name, pattern, reason, match_count, created_at FROM patterns")
	if err != nil {
		return err
	}
	defer prows.Close()
	for prows.Next() {
		var p Pattern
		var createdUnix int64
		if err := prows.Scan(&p.ID, &p.ToolName, &p.Pattern, &p.Reason, &p.MatchCount, &createdUnix); err != nil {
			return err
		}
		p.CreatedAt = time.Unix(createdUnix, 0).UTC()
		p.Persistent = true
		s.patterns = append(s.patterns, p)
	}
	return nil
}

// Close closes the backing database, if any.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// ApproveExact records a signature as approved for the session, or
// persistently if persist is true.
func (s *Store) ApproveExact(sig Signature, persist bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.exact[sig] = true
	if persist {
		s.exactPer[sig] = true
		if s.db != nil {
			if _, err := s.db.Exec(
				"INSERT OR REPLACE INTO exact_approvals (tool_name, context_key) VALUES (?, ?)",
				sig.ToolName, sig.ContextKey,
			); err != nil {
				log.Warn().Err(err).Msg("patternstore: failed to persist exact approval")
			}
		}
	}
}

// IsExactApproved reports whether a signature was already approved, either
// this session or persistently.
func (s *Store) IsExactApproved(sig Signature) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exact[sig]
}

// AddPattern registers a new glob pattern approval. If persist is true the
// pattern is written through to disk immediately.
func (s *Store) AddPattern(toolName, pattern, reason string, persist bool) Pattern {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := Pattern{
		ID:         uuid.NewString(),
		ToolName:   toolName,
		Pattern:    pattern,
		Reason:     reason,
		MatchCount: 0,
		CreatedAt:  time.Now().UTC(),
		Persistent: persist,
	}
	s.patterns = append(s.patterns, p)

	if persist && s.db != nil {
		if _, err := s.db.Exec(
			"INSERT OR REPLACE INTO patterns (id, tool_name, pattern, reason, match_count, created_at) VALUES (?, ?, ?, ?, ?, ?)",
			p.ID, p.ToolName, p.Pattern, p.Reason, p.MatchCount, p.CreatedAt.Unix(),
		); err != nil {
			log.Warn().Err(err).Msg("patternstore: failed to persist pattern")
		}
	}
	return p
}

// MatchPattern returns the most specific pattern (fewest wildcards, ties
// broken by most-recent CreatedAt) matching the signature's tool name and
// context key, incrementing its match_count. Returns false if no pattern
// matches.
func (s *Store) MatchPattern(sig Signature) (Pattern, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var best *Pattern
	var bestIdx int
	for i := range s.patterns {
		p := &s.patterns[i]
		if p.ToolName != sig.ToolName {
			continue
		}
		if !p.matches(sig.ContextKey) {
			continue
		}
		if best == nil {
			best, bestIdx = p, i
			continue
		}
		if p.wildcardCount() < best.wildcardCount() {
			best, bestIdx = p, i
			continue
		}
		if p.wildcardCount() == best.wildcardCount() && p.CreatedAt.After(best.CreatedAt) {
			best, bestIdx = p, i
		}
	}
	if best == nil {
		return Pattern{}, false
	}

	s.patterns[bestIdx].MatchCount++
	result := s.patterns[bestIdx]

	if result.Persistent && s.db != nil {
		if _, err := s.db.Exec(
			"UPDATE patterns SET match_count = ? WHERE id = ?",
			result.MatchCount, result.ID,
		); err != nil {
			log.Warn().Err(err).Msg("patternstore: failed to persist match count")
		}
	}
	return result, true
}
