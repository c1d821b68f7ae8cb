// Package ingest gates candidate memories before they reach the store.
//
// The Validator detects citations and hedges in the source text, scores
// confidence, checks for duplicates and assigns a provenance tier:
//
//	tier 1  stored directly
//	tier 2  held in the review queue until a reviewer approves or rejects it
//	tier 3  rejected, nothing persisted
//
// When the duplicate check cannot reach the store the validator fails closed:
// the candidate is queued for review and ErrValidationUnavailable is returned.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/scrypster/memkeep/internal/lexical"
	"github.com/scrypster/memkeep/internal/llm"
	"github.com/scrypster/memkeep/internal/metrics"
	"github.com/scrypster/memkeep/internal/similarity"
	"github.com/scrypster/memkeep/internal/storage"
	"github.com/scrypster/memkeep/pkg/types"
)

// ErrValidationUnavailable is returned when the duplicate check could not
// complete. The accompanying result is tier 2, never tier 1.
var ErrValidationUnavailable = errors.New("validation unavailable")

// Candidate is a memory proposed for storage together with the conversation
// text it was extracted from.
type Candidate struct {
	Content    string
	SourceText string
	MemoryType string
	// BaseConfidence <= 0 uses Config.BaseConfidence.
	BaseConfidence float64

	UserID    string
	Scope     types.Scope // empty means user
	ProjectID string

	Metadata  map[string]interface{}
	ExpiresAt *time.Time
}

// Validator classifies candidates and applies the resulting side effects.
// It is safe for concurrent use.
type Validator struct {
	store    storage.Store
	queue    ReviewQueue
	embedder llm.Embedder
	measure  similarity.Measure
	cfg      Config
	keywords Keywords
	cites    *CitationDetector
	ids      *idSource
	now      func() time.Time
	logger   *log.Logger
	metrics  metrics.Sink
}

// Option configures a Validator.
type Option func(*Validator)

// WithQueue sets the queue tier-2 candidates are enqueued to.
func WithQueue(q ReviewQueue) Option { return func(v *Validator) { v.queue = q } }

// WithEmbedder embeds tier-1 memories before storing them and, unless
// WithMeasure overrides it, makes the duplicate check embedding based.
func WithEmbedder(e llm.Embedder) Option { return func(v *Validator) { v.embedder = e } }

// WithMeasure overrides the duplicate similarity measure.
func WithMeasure(m similarity.Measure) Option { return func(v *Validator) { v.measure = m } }

// WithKeywords replaces the phrase tables.
func WithKeywords(kw Keywords) Option { return func(v *Validator) { v.keywords = kw } }

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option { return func(v *Validator) { v.now = now } }

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(v *Validator) {
		if l != nil {
			v.logger = l
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(s metrics.Sink) Option { return func(v *Validator) { v.metrics = metrics.OrNop(s) } }

// NewValidator creates a validator backed by store.
func NewValidator(store storage.Store, cfg Config, opts ...Option) (*Validator, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store is required", storage.ErrInvalidInput)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid ingest config: %w", err)
	}
	v := &Validator{
		store:    store,
		cfg:      cfg,
		keywords: DefaultKeywords(),
		now:      time.Now,
		logger:   log.New(io.Discard),
		metrics:  metrics.Nop{},
	}
	for _, opt := range opts {
		opt(v)
	}
	if v.measure == nil {
		v.measure = similarity.New(v.embedder)
	}
	v.cites = NewCitationDetector(v.keywords)
	v.ids = newIDSource()
	return v, nil
}

// signals are the keyword matches that drive confidence and tier.
type signals struct {
	explicit    string
	hedges      []string
	speculative []string
	firstPerson bool
	verbatim    bool
}

// Validate classifies c without side effects. On a failed duplicate check
// it returns a tier-2 result marked Unavailable together with an error
// wrapping ErrValidationUnavailable.
func (v *Validator) Validate(ctx context.Context, c Candidate) (types.ValidationResult, error) {
	c, err := v.normalise(c)
	if err != nil {
		return types.ValidationResult{}, err
	}

	source := c.SourceText
	verbatimEligible := true
	if strings.TrimSpace(source) == "" {
		// With no conversation text the content is its own evidence, which
		// must not also count as a verbatim match.
		source = c.Content
		verbatimEligible = false
	}

	res := types.ValidationResult{Citations: v.cites.Detect(source)}
	sig := v.detect(c, source, verbatimEligible)
	res.Hedged = len(sig.hedges) > 0
	res.Confidence = v.confidence(c.BaseConfidence, sig)

	for _, cit := range res.Citations {
		res.Reasons = append(res.Reasons, fmt.Sprintf("citation %s: %q", cit.Type, cit.Span))
	}
	if sig.explicit != "" {
		res.Reasons = append(res.Reasons, fmt.Sprintf("explicit %s keyword %q", c.MemoryType, sig.explicit))
	}
	for _, h := range sig.hedges {
		res.Reasons = append(res.Reasons, fmt.Sprintf("hedge %q", h))
	}

	dupID, sim, dupErr := v.findDuplicate(ctx, c)
	if dupErr != nil {
		res.Tier = types.TierReview
		res.Unavailable = true
		res.Reasons = append(res.Reasons, fmt.Sprintf("unavailable: duplicate check failed: %v", dupErr))
		v.metrics.Count(metrics.ValidationUnavailable, 1)
		v.logger.Warn("ingest: duplicate check unavailable", "user_id", c.UserID, "err", dupErr)
		return res, fmt.Errorf("%w: %v", ErrValidationUnavailable, dupErr)
	}
	if dupID != "" {
		res.Duplicate = true
		res.DuplicateOf = dupID
		res.Reasons = append(res.Reasons, fmt.Sprintf("duplicate of %s (similarity %.2f)", dupID, sim))
	}

	res.Tier, res.Reasons = v.tier(res, sig, res.Reasons)
	return res, nil
}

func (v *Validator) normalise(c Candidate) (Candidate, error) {
	c.Content = strings.TrimSpace(c.Content)
	if c.Content == "" {
		return c, fmt.Errorf("%w: candidate content is required", storage.ErrInvalidInput)
	}
	if c.UserID == "" {
		return c, fmt.Errorf("%w: candidate user_id is required", storage.ErrInvalidInput)
	}
	if c.Scope == "" {
		c.Scope = types.ScopeUser
	}
	if !c.Scope.Valid() {
		return c, fmt.Errorf("%w: invalid scope %q", storage.ErrInvalidInput, c.Scope)
	}
	if c.Scope == types.ScopeProject && c.ProjectID == "" {
		return c, fmt.Errorf("%w: project scope requires project_id", storage.ErrInvalidInput)
	}
	if c.BaseConfidence <= 0 {
		c.BaseConfidence = v.cfg.BaseConfidence
	}
	c.MemoryType = strings.ToLower(strings.TrimSpace(c.MemoryType))
	return c, nil
}

func (v *Validator) detect(c Candidate, source string, verbatimEligible bool) signals {
	toks := lexical.Tokenize(source)
	var sig signals
	sig.explicit, _ = lexical.FirstPhrase(toks, v.keywords.Explicit[c.MemoryType])
	for _, h := range v.keywords.Hedges {
		if lexical.ContainsPhrase(toks, h) {
			sig.hedges = append(sig.hedges, h)
		}
	}
	for _, s := range v.keywords.Speculative {
		if lexical.ContainsPhrase(toks, s) && !coveredByHedge(s, sig.hedges) {
			sig.speculative = append(sig.speculative, s)
		}
	}
	_, sig.firstPerson = lexical.FirstPhrase(toks, v.keywords.FirstPerson)
	sig.verbatim = verbatimEligible && strings.Contains(strings.ToLower(source), strings.ToLower(c.Content))
	return sig
}

// coveredByHedge reports whether marker contains a hedge that was already
// counted, so "might want" does not count "might" twice.
func coveredByHedge(marker string, hedges []string) bool {
	toks := lexical.Tokenize(marker)
	for _, h := range hedges {
		if lexical.ContainsPhrase(toks, h) {
			return true
		}
	}
	return false
}

// confidence applies each adjustment at most once and clamps to [0,1].
func (v *Validator) confidence(base float64, sig signals) float64 {
	conf := base
	if sig.explicit != "" {
		conf += v.cfg.KeywordBoost
	}
	if len(sig.hedges) > 0 {
		conf -= v.cfg.HedgePenalty
	}
	if sig.verbatim {
		conf += v.cfg.VerbatimBoost
	}
	if sig.firstPerson {
		conf += v.cfg.FirstPersonBoost
	}
	// Round away float noise so 0.7+0.1+0.05 compares equal to 0.85.
	return types.ClampConfidence(math.Round(conf*1e9) / 1e9)
}

func (v *Validator) tier(res types.ValidationResult, sig signals, reasons []string) (types.Tier, []string) {
	cited := len(res.Citations) > 0
	switch {
	case res.Duplicate:
		return types.TierBlock, reasons
	case res.Hedged && res.Confidence < v.cfg.RejectThreshold:
		return types.TierBlock, append(reasons, fmt.Sprintf("hedged with confidence %.2f below %.2f", res.Confidence, v.cfg.RejectThreshold))
	case len(sig.hedges)+len(sig.speculative) >= v.cfg.SpeculativeLimit && sig.explicit == "" && !cited:
		return types.TierBlock, append(reasons, "speculative markers dominate without supporting evidence")
	case cited && !res.Hedged && res.Confidence >= v.cfg.AcceptThreshold:
		return types.TierAutoApprove, append(reasons, "cited and confident")
	case sig.firstPerson && sig.explicit != "" && !res.Hedged && len(sig.speculative) == 0:
		return types.TierAutoApprove, append(reasons, "explicit first-person statement")
	default:
		return types.TierReview, append(reasons, "needs review")
	}
}

// findDuplicate compares c against the owner's memories in the same scope:
// first the store's lexical matches, then a bounded newest-first scan.
func (v *Validator) findDuplicate(ctx context.Context, c Candidate) (string, float64, error) {
	ctx, cancel := context.WithTimeout(ctx, v.cfg.CheckTimeout)
	defer cancel()

	item := similarity.Item{Text: c.Content}
	seen := make(map[string]bool)
	check := func(ms []*types.Memory) (string, float64, error) {
		for _, m := range ms {
			if seen[m.ID] || !sameBucket(m, c) {
				continue
			}
			seen[m.ID] = true
			s, err := v.measure.Similarity(ctx, item, similarity.Of(m))
			if err != nil {
				return "", 0, fmt.Errorf("compare with %s: %w", m.ID, err)
			}
			if s > v.cfg.DedupThreshold {
				return m.ID, s, nil
			}
		}
		return "", 0, nil
	}

	matches, err := v.store.Retrieve(ctx, c.Content, c.UserID, v.cfg.DedupCandidates)
	if err != nil {
		return "", 0, fmt.Errorf("retrieve candidates: %w", err)
	}
	if id, s, err := check(matches); id != "" || err != nil {
		return id, s, err
	}
	if v.cfg.DedupScanLimit == 0 {
		return "", 0, nil
	}

	recent, err := v.store.Search(ctx, c.UserID, storage.Filters{
		OwnedOnly: true,
		Scopes:    []types.Scope{c.Scope},
	}, v.cfg.DedupScanLimit)
	if err != nil {
		return "", 0, fmt.Errorf("scan scope: %w", err)
	}
	return check(recent)
}

// sameBucket reports whether m shares the candidate's owner and scope.
func sameBucket(m *types.Memory, c Candidate) bool {
	if m.UserID != c.UserID || m.Scope != c.Scope {
		return false
	}
	return c.Scope != types.ScopeProject || m.ProjectID == c.ProjectID
}
