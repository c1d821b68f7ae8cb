package janitor

import (
	"context"
	"io"
	"sort"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/scrypster/memkeep/internal/lexical"
	"github.com/scrypster/memkeep/internal/storage"
	"github.com/scrypster/memkeep/pkg/types"
)

// Claim is the subject/predicate/object reading of a memory's content.
type Claim struct {
	Subject   string
	Predicate string
	Object    string
	Negated   bool
}

// Key identifies what the claim is about.
func (c Claim) Key() string { return c.Subject + "\x00" + c.Predicate }

// SingleValued reports whether the subject can hold only one object for the
// claim's predicate. A metadata subject is always single-valued.
func (c Claim) SingleValued() bool { return c.Predicate == "" || singleValued[c.Predicate] }

// Conflicts reports whether c and o make incompatible statements about the
// same key. Single-valued claims conflict on a different object or polarity.
// Multi-valued claims ("uses", "is") only conflict when one negates the
// other's object: "uses Redis" and "uses Postgres" are both true.
func (c Claim) Conflicts(o Claim) bool {
	if c.Key() != o.Key() {
		return false
	}
	if c.SingleValued() {
		return c.Object != o.Object || c.Negated != o.Negated
	}
	return c.Object == o.Object && c.Negated != o.Negated
}

// predicates are the relations recognised in content. Longer phrases come
// first so "is using" wins over "is" at the same position.
var predicates = []string{
	"prefers to use", "is using", "are using", "lives in", "works at", "works on",
	"prefers", "prefer", "uses", "use", "likes", "like", "wants", "want",
	"runs", "deploys to", "chose", "picked", "is", "are",
}

// singleValued predicates admit one object per subject at a time.
var singleValued = map[string]bool{
	"prefers to use": true, "prefers": true, "prefer": true,
	"lives in": true, "works at": true, "deploys to": true,
	"chose": true, "picked": true,
}

// negations flip a claim's polarity. Tokenize splits contractions, so
// "doesn't" arrives as "doesn" followed by "t".
var negations = map[string]bool{
	"not": true, "no": true, "never": true, "doesn": true, "don": true,
	"isn": true, "aren": true, "didn": true, "won": true,
}

// ParseClaim extracts a claim from m. metadata["subject"] overrides the
// parsed subject; the object is then the full normalised content. ok is false
// when no claim can be read.
func ParseClaim(m *types.Memory) (Claim, bool) {
	words := lexical.Tokenize(m.Content)
	if len(words) == 0 {
		return Claim{}, false
	}

	negated := false
	kept := make([]string, 0, len(words))
	prev := ""
	for _, w := range words {
		switch {
		case negations[w]:
			negated = true
		case w == "t" && negations[prev]:
		case w == "longer" && prev == "no":
		case w == "anymore":
		default:
			kept = append(kept, w)
		}
		prev = w
	}

	if hint := strings.ToLower(strings.TrimSpace(m.SubjectHint())); hint != "" {
		return Claim{Subject: hint, Object: strings.Join(kept, " "), Negated: negated}, true
	}

	// The earliest predicate in the sentence splits it; at one position the
	// longest phrase wins.
	for i := 1; i < len(kept); i++ {
		for _, p := range predicates {
			n := matchAt(kept, i, p)
			if n == 0 || i+n >= len(kept) {
				continue
			}
			return Claim{
				Subject:   strings.Join(kept[:i], " "),
				Predicate: p,
				Object:    strings.Join(kept[i+n:], " "),
				Negated:   negated,
			}, true
		}
	}
	return Claim{}, false
}

// matchAt returns the token length of phrase if it starts at words[i].
func matchAt(words []string, i int, phrase string) int {
	p := strings.Fields(phrase)
	if i+len(p) > len(words) {
		return 0
	}
	for j := range p {
		if words[i+j] != p[j] {
			return 0
		}
	}
	return len(p)
}

// ContradictionHandler resolves conflicting claims: the newer memory wins
// and the older one is removed.
type ContradictionHandler struct {
	store  storage.Store
	limit  int
	logger *log.Logger
}

// NewContradictionHandler creates a contradiction handler.
func NewContradictionHandler(store storage.Store, cfg Config, logger *log.Logger) *ContradictionHandler {
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &ContradictionHandler{store: store, limit: cfg.ScanLimit, logger: logger}
}

func (h *ContradictionHandler) Name() string { return TaskContradiction }

type claimed struct {
	m *types.Memory
	c Claim
}

// Run groups memories by bucket, type and claim key (plus object for
// multi-valued predicates), keeps the newest of each group and removes every
// older memory whose claim conflicts with it. Agreeing claims are left for
// the deduplicator.
func (h *ContradictionHandler) Run(ctx context.Context, userID string) (types.TaskStats, error) {
	stats := types.TaskStats{Task: TaskContradiction}
	ms, err := load(ctx, h.store, userID, h.limit)
	if err != nil {
		return stats, err
	}
	stats.Processed = len(ms)

	groups := make(map[string][]claimed)
	var order []string
	for _, m := range ms {
		c, ok := ParseClaim(m)
		if !ok {
			continue
		}
		k := bucketKey(m) + "\x00" + m.MemoryType + "\x00" + c.Key()
		if !c.SingleValued() {
			k += "\x00" + c.Object
		}
		if _, seen := groups[k]; !seen {
			order = append(order, k)
		}
		groups[k] = append(groups[k], claimed{m: m, c: c})
	}

	for _, k := range order {
		group := groups[k]
		if len(group) < 2 {
			continue
		}
		sort.Slice(group, func(i, j int) bool { return newerWins(group[i].m, group[j].m) })
		winner := group[0]
		for _, older := range group[1:] {
			if !winner.c.Conflicts(older.c) {
				continue
			}
			ok, err := remove(ctx, h.store, older.m, h.logger, TaskContradiction)
			if err != nil {
				stats.Errors++
				continue
			}
			if ok {
				stats.Resolved++
				h.logger.Debug("janitor: superseded memory", "winner", winner.m.ID, "removed", older.m.ID, "subject", winner.c.Subject)
			}
		}
	}
	return stats, nil
}

// newerWins orders by later CreatedAt, then later LastAccessedAt, then larger
// id.
func newerWins(a, b *types.Memory) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	if !a.LastAccessedAt.Equal(b.LastAccessedAt) {
		return a.LastAccessedAt.After(b.LastAccessedAt)
	}
	return a.ID > b.ID
}

var _ Task = (*ContradictionHandler)(nil)
