package ranking

// queryStopwords are dropped from key-token extraction after the
// minimum-length filter, per spec.md §4.4 step 2.
var queryStopwords = map[string]bool{
	"the": true, "and": true, "for": true, "that": true, "this": true,
	"with": true, "from": true, "have": true, "has": true, "had": true,
	"was": true, "were": true, "are": true, "you": true, "your": true,
	"about": true, "into": true, "than": true, "then": true, "them": true,
	"they": true, "their": true, "what": true, "which": true, "when": true,
	"where": true, "who": true, "whom": true, "how": true, "all": true,
	"any": true, "can": true, "could": true, "would": true, "should": true,
	"will": true, "not": true, "but": true, "out": true, "its": true,
	"our": true, "ours": true, "some": true, "such": true, "each": true,
	"other": true, "there": true, "here": true, "over": true, "under": true,
	"again": true, "further": true, "once": true, "just": true, "very": true,
	"does": true, "did": true, "doing": true, "being": true, "been": true,
}
