package learning

import (
	"encoding/hex"

	"github.com/cespare/xxhash/v2"
)

// ActivityDigest hashes the contextual signals around a query or event (the
// frontmost app plus recent opaque event ids) into a short stable key used as
// the second attribution tier. The digest is hex, at most 32 bytes, and
// deterministic for the same inputs in the same order.
func ActivityDigest(appBundleID string, recentEventIDs ...string) string {
	if appBundleID == "" && len(recentEventIDs) == 0 {
		return ""
	}

	h := xxhash.New()
	_, _ = h.WriteString(appBundleID)
	for _, id := range recentEventIDs {
		_, _ = h.WriteString("\x00")
		_, _ = h.WriteString(id)
	}

	var sum [8]byte
	out := h.Sum(sum[:0])
	return hex.EncodeToString(out)
}
