package ranking

import "context"

// LexicalHit is one BM25-ordered lexical index result.
type LexicalHit struct {
	ItemID       int64
	BM25RawScore float64
}

// SemanticHit is one nearest-neighbor semantic index result.
type SemanticHit struct {
	ItemID             int64
	SemanticNormalized float64
}

// LexicalRetriever queries the full-text index, bounded to limit results.
// The concrete implementation lives with the indexer worker behind the IPC
// boundary (spec.md §1 non-goal: "enumerating files... delegated to an
// indexer worker"); this package only consumes the interface.
type LexicalRetriever interface {
	Search(ctx context.Context, query string, limit int) ([]LexicalHit, error)
}

// SemanticRetriever queries the vector index, bounded to limit results.
type SemanticRetriever interface {
	NearestNeighbors(ctx context.Context, query string, limit int) ([]SemanticHit, error)
}

// ItemLookup resolves an itemId to the persisted Item fields the scorer
// needs (name, path, kind, pin state, mtime) plus open-interaction stats.
type ItemLookup interface {
	Lookup(ctx context.Context, itemID int64) (ItemFacts, bool, error)
}

// ItemFacts is the subset of a storage.Item (plus derived open stats) the
// ranking pipeline needs per candidate.
type ItemFacts struct {
	Path            string
	Name            string
	Kind            string
	IsPinned        bool
	ModifiedAtEpoch float64
	OpenCount       int
	LastOpenEpoch   float64
}

const (
	defaultLexicalLimit  = 200
	defaultSemanticLimit = 200
)

// Retrieve merges bounded lexical and semantic result sets by itemId, per
// spec.md §4.4 step 4.
func Retrieve(ctx context.Context, lexical LexicalRetriever, semantic SemanticRetriever, query string) (map[int64]*Candidate, error) {
	merged := make(map[int64]*Candidate)

	if lexical != nil {
		hits, err := lexical.Search(ctx, query, defaultLexicalLimit)
		if err != nil {
			return nil, err
		}
		for _, h := range hits {
			merged[h.ItemID] = &Candidate{ItemID: h.ItemID, BM25RawScore: h.BM25RawScore, MatchType: MatchContent}
		}
	}

	if semantic != nil {
		hits, err := semantic.NearestNeighbors(ctx, query, defaultSemanticLimit)
		if err != nil {
			return nil, err
		}
		for _, h := range hits {
			if c, ok := merged[h.ItemID]; ok {
				c.SemanticNormalized = h.SemanticNormalized
			} else {
				merged[h.ItemID] = &Candidate{ItemID: h.ItemID, SemanticNormalized: h.SemanticNormalized, MatchType: MatchContent}
			}
		}
	}

	return merged, nil
}
