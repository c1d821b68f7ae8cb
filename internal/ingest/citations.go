package ingest

import (
	"regexp"
	"sort"
	"strings"

	"github.com/scrypster/memkeep/pkg/types"
)

// Detector confidence per citation type.
const (
	quoteConfidence     = 0.9
	linkConfidence      = 0.8
	statementConfidence = 0.7
)

var (
	straightQuote = regexp.MustCompile(`"([^"\n]{2,})"`)
	curlyQuote    = regexp.MustCompile(`“([^”\n]{2,})”`)
	urlPattern    = regexp.MustCompile(`https?://[^\s<>"'()]+`)
	myIsPattern   = regexp.MustCompile(`(?i)\bmy\s+[\p{L}\p{N}_-]+(?:\s+[\p{L}\p{N}_-]+)?\s+(?:is|are)\b`)
)

// CitationDetector finds evidence spans in source text.
type CitationDetector struct {
	statements []*regexp.Regexp
}

// NewCitationDetector compiles the explicit statement phrases of kw.
func NewCitationDetector(kw Keywords) *CitationDetector {
	d := &CitationDetector{}
	for _, p := range kw.Statements {
		words := strings.Fields(p)
		for i := range words {
			words[i] = regexp.QuoteMeta(words[i])
		}
		d.statements = append(d.statements, regexp.MustCompile(`(?i)\b`+strings.Join(words, `\s+`)+`\b`))
	}
	d.statements = append(d.statements, myIsPattern)
	return d
}

// Detect returns every citation in source, ordered by start offset.
// Offsets are byte positions in source.
func (d *CitationDetector) Detect(source string) []types.Citation {
	var out []types.Citation

	for _, re := range []*regexp.Regexp{straightQuote, curlyQuote} {
		for _, loc := range re.FindAllStringSubmatchIndex(source, -1) {
			out = append(out, types.Citation{
				Span:       source[loc[2]:loc[3]],
				Type:       types.CitationQuotedSource,
				Start:      loc[2],
				End:        loc[3],
				Confidence: quoteConfidence,
			})
		}
	}

	for _, loc := range urlPattern.FindAllStringIndex(source, -1) {
		end := loc[1]
		for end > loc[0] && strings.ContainsRune(".,;:!?", rune(source[end-1])) {
			end--
		}
		out = append(out, types.Citation{
			Span:       source[loc[0]:end],
			Type:       types.CitationLink,
			Start:      loc[0],
			End:        end,
			Confidence: linkConfidence,
		})
	}

	for _, re := range d.statements {
		for _, loc := range re.FindAllStringIndex(source, -1) {
			out = append(out, types.Citation{
				Span:       source[loc[0]:loc[1]],
				Type:       types.CitationExplicitUserSay,
				Start:      loc[0],
				End:        loc[1],
				Confidence: statementConfidence,
			})
		}
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Start < out[j].Start })
	return out
}
