// Package ranking implements the query/ranking pipeline: normalizing a raw
// query, structuring it into entities/temporal ranges/doctype intent,
// routing it to a class and domain, classifying candidate match types,
// scoring candidates with a weighted breakdown, and optionally reranking
// with a personalized linear model.
package ranking

// EntityType classifies a capitalized run extracted from a query.
type EntityType int

const (
	EntityOther EntityType = iota
	EntityPerson
	EntityPlace
	EntityOrganization
)

func (t EntityType) String() string {
	switch t {
	case EntityPerson:
		return "person"
	case EntityPlace:
		return "place"
	case EntityOrganization:
		return "organization"
	default:
		return "other"
	}
}

// Entity is a named span recognized in the original (case-preserved) query.
type Entity struct {
	Text string
	Type EntityType
}

// TemporalRange is an inclusive epoch-second window parsed from a query.
type TemporalRange struct {
	StartEpoch float64
	EndEpoch   float64
}

// QueryClass is the router's structural classification of a cleaned query.
type QueryClass int

const (
	QueryClassUnknown QueryClass = iota
	QueryClassNaturalLanguage
	QueryClassPathOrCode
	QueryClassShortAmbiguous
)

func (c QueryClass) String() string {
	switch c {
	case QueryClassNaturalLanguage:
		return "natural_language"
	case QueryClassPathOrCode:
		return "path_or_code"
	case QueryClassShortAmbiguous:
		return "short_ambiguous"
	default:
		return "unknown"
	}
}

// QueryDomain is the router's topical classification of a cleaned query.
type QueryDomain int

const (
	QueryDomainUnknown QueryDomain = iota
	QueryDomainPersonalDocs
	QueryDomainDevCode
	QueryDomainFinance
	QueryDomainMedia
	QueryDomainGeneral
)

func (d QueryDomain) String() string {
	switch d {
	case QueryDomainPersonalDocs:
		return "personal_docs"
	case QueryDomainDevCode:
		return "dev_code"
	case QueryDomainFinance:
		return "finance"
	case QueryDomainMedia:
		return "media"
	case QueryDomainGeneral:
		return "general"
	default:
		return "unknown"
	}
}

// NormalizedQuery is the output of the Normalize stage.
type NormalizedQuery struct {
	Original   string
	Normalized string
}

// StructuredQuery is the output of the Structure stage, carried forward
// through routing, scoring, and exposure recording.
type StructuredQuery struct {
	OriginalQuery         string
	CleanedQuery          string
	Entities              []Entity
	Temporal              *TemporalRange
	DocTypeIntent         string
	LocationHints         []string
	KeyTokens             []string
	QueryClass            QueryClass
	QueryClassConfidence  float64
	QueryDomain           QueryDomain
	QueryDomainConfidence float64
	SemanticNeedScore     float64
}

// MatchType is the priority-ordered classification of how a candidate
// matched a query.
type MatchType int

const (
	MatchContent MatchType = iota
	MatchExactName
	MatchPrefixName
	MatchContainsName
	MatchExactPath
	MatchPrefixPath
	MatchFuzzy
)

func (m MatchType) String() string {
	switch m {
	case MatchExactName:
		return "exact_name"
	case MatchPrefixName:
		return "prefix_name"
	case MatchContainsName:
		return "contains_name"
	case MatchExactPath:
		return "exact_path"
	case MatchPrefixPath:
		return "prefix_path"
	case MatchFuzzy:
		return "fuzzy"
	default:
		return "content"
	}
}

// ScoreBreakdown is the additive decomposition of a candidate's final score.
type ScoreBreakdown struct {
	BaseMatchScore       float64
	RecencyBoost         float64
	FrequencyBoost       float64
	ContextBoost         float64
	PinnedBoost          float64
	JunkPenalty          float64
	SemanticBoost        float64
	CrossEncoderBoost    float64
	StructuredQueryBoost float64
	M2SignalBoost        float64
	FeedbackBoost        float64
}

// Sum adds every signed component except FeedbackBoost (read only by the
// LTR reranker), clamping the result at zero per spec.md §4.4 step 6.
func (b ScoreBreakdown) Sum() float64 {
	total := b.BaseMatchScore + b.RecencyBoost + b.FrequencyBoost + b.ContextBoost +
		b.PinnedBoost + b.SemanticBoost + b.CrossEncoderBoost + b.StructuredQueryBoost +
		b.M2SignalBoost - b.JunkPenalty
	if total < 0 {
		return 0
	}
	return total
}

// Candidate is an in-flight search hit, ephemeral for the lifetime of one
// query, per spec.md §3.
type Candidate struct {
	ItemID             int64
	Path               string
	Name               string
	Kind               string
	IsPinned           bool
	ModifiedAtEpoch    float64
	OpenCount          int
	LastOpenEpoch      float64
	MatchType          MatchType
	FuzzyDistance      int
	BM25RawScore       float64
	SemanticNormalized float64
	CrossEncoderScore  float64
	ScoreBreakdown     ScoreBreakdown
	Score              float64
}

// QueryContext carries controller-supplied context stable for one query,
// per spec.md §3.
type QueryContext struct {
	ContextEventID        string
	ActivityDigest        string
	FrontmostAppBundleID  string
	ClipboardBasename     string
	ClipboardDirname      string
	ClipboardExtension    string
	ContextFeatureVersion int
	CWDPath               string
}

// ScoringWeights are the tunable constants behind computeScore, with
// defaults matching the reference implementation's shipped tuning.
type ScoringWeights struct {
	ExactNameWeight    float64
	PrefixNameWeight   float64
	ContainsNameWeight float64
	ExactPathWeight    float64
	PrefixPathWeight   float64
	ContentMatchWeight float64
	FuzzyMatchWeight   float64

	RecencyWeight    float64
	RecencyDecayDays float64

	FrequencyTier1Boost float64
	FrequencyTier2Boost float64
	FrequencyTier3Boost float64

	CWDBoostWeight        float64
	AppContextBoostWeight float64

	PinnedBoostWeight float64
	JunkPenaltyWeight float64
}

// DefaultScoringWeights mirrors the reference scorer's shipped defaults.
func DefaultScoringWeights() ScoringWeights {
	return ScoringWeights{
		ExactNameWeight:       100,
		PrefixNameWeight:      70,
		ContainsNameWeight:    45,
		ExactPathWeight:       60,
		PrefixPathWeight:      40,
		ContentMatchWeight:    8,
		FuzzyMatchWeight:      30,
		RecencyWeight:         20,
		RecencyDecayDays:      14,
		FrequencyTier1Boost:   4,
		FrequencyTier2Boost:   10,
		FrequencyTier3Boost:   16,
		CWDBoostWeight:        12,
		AppContextBoostWeight: 8,
		PinnedBoostWeight:     25,
		JunkPenaltyWeight:     35,
	}
}
