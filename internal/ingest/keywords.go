package ingest

import "github.com/scrypster/memkeep/pkg/types"

// Keywords are the phrase tables the validator matches on token boundaries.
// Swapping a table changes detection without touching the validator.
type Keywords struct {
	// Explicit maps a memory type to phrases that state it outright.
	Explicit map[string][]string
	// Hedges mark uncertainty.
	Hedges []string
	// Speculative marks suggestions and hypotheticals rather than claims.
	Speculative []string
	// FirstPerson pronouns mark a statement about the speaker.
	FirstPerson []string
	// Statements are the explicit user statement openers cited as evidence.
	Statements []string
}

// DefaultKeywords returns the built-in English tables.
func DefaultKeywords() Keywords {
	return Keywords{
		Explicit: map[string][]string{
			types.MemoryTypePreference: {"prefer", "prefers", "i like", "i want", "i love", "favorite", "favourite"},
			types.MemoryTypeFact:       {"uses", "is", "has", "runs", "works"},
			types.MemoryTypeDecision:   {"decided", "chose", "selected", "agreed", "going with"},
		},
		Hedges: []string{
			"maybe", "might", "probably", "perhaps", "possibly", "i think", "i guess",
			"not sure", "i believe", "seems", "kind of", "sort of", "unsure",
		},
		Speculative: []string{
			"should", "could", "would", "what if", "consider", "someday",
			"in the future", "planning to", "thinking about", "might want",
		},
		FirstPerson: []string{"i", "we", "my", "our"},
		Statements: []string{
			"i prefer", "i said", "i told you", "remember that", "note that",
			"for the record", "i always", "i never",
		},
	}
}
