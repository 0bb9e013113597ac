package ranking

import "strings"

// DefaultContextSignals implements ContextSignals with simple path-prefix
// and extension heuristics. The reference scorer delegates these to a
// separate context-signals collaborator outside the retrieved source set;
// this reconstructs the documented behavior ("cwd-proximity + app-context
// heuristics against the full path") rather than guessing at unseen
// internals.
type DefaultContextSignals struct {
	// AppExtensions maps a frontmost app bundle id to the file extensions
	// (without the leading dot) it is known to work with, e.g.
	// "com.apple.dt.Xcode" -> {"swift", "m", "h"}.
	AppExtensions map[string][]string
}

// CWDProximityBoost rewards candidates that share a directory prefix with
// the current working directory, scaled by how many path segments match.
func (d DefaultContextSignals) CWDProximityBoost(path, cwdPath string, weight float64) float64 {
	if weight <= 0 || cwdPath == "" {
		return 0
	}
	if !strings.HasPrefix(path, cwdPath) {
		return 0
	}
	if path == cwdPath {
		return weight
	}

	remainder := strings.TrimPrefix(strings.TrimPrefix(path, cwdPath), "/")
	depth := strings.Count(remainder, "/")
	switch depth {
	case 0:
		return weight
	case 1:
		return weight * 0.6
	default:
		return weight * 0.3
	}
}

// AppContextBoost rewards candidates whose extension matches the
// frontmost application's known working extensions.
func (d DefaultContextSignals) AppContextBoost(path, appBundleID string, weight float64) float64 {
	if weight <= 0 || appBundleID == "" || d.AppExtensions == nil {
		return 0
	}
	extensions, ok := d.AppExtensions[appBundleID]
	if !ok {
		return 0
	}

	dot := strings.LastIndex(path, ".")
	if dot < 0 {
		return 0
	}
	ext := strings.ToLower(path[dot+1:])
	for _, candidate := range extensions {
		if strings.ToLower(candidate) == ext {
			return weight
		}
	}
	return 0
}
