// Package globmatch implements the LTFS index-criteria name-match automaton
// (spec.md §4.2): a glob pattern of literal characters plus '*' (any run)
// and '?' (exactly one grapheme cluster) is matched against a file name by
// grapheme cluster, caseless, using an explicit backtracking stack rather
// than recursion so every exit path — including errors — drains the stack
// deterministically.
//
// Grapheme cluster boundaries follow Unicode UAX #29 via
// github.com/rivo/uniseg; no example in the retrieval pack performs
// grapheme segmentation, so this is an out-of-pack but standard ecosystem
// choice (see DESIGN.md).
package globmatch

import (
	"github.com/rivo/uniseg"

	"github.com/ltfscore/ltfscore/internal/ltfserr"
	"github.com/ltfscore/ltfscore/internal/pathname"
)

// Result is the outcome of a Match call.
type Result int

const (
	NoMatch Result = iota
	Match
)

// frame is a saved backtracking point: the index of a live '*' in the
// pattern (matching resumes right after it) and the position in the name at
// which we last tried to resume matching. On a mismatch we pop the most recent frame, advance its
// name position by one cluster, and retry — simulating the NFA's epsilon
// transitions out of a Kleene star without recursion.
type frame struct {
	patternPos int
	namePos    int
}

// clusters splits s into its grapheme clusters.
func clusters(s string) []string {
	out := make([]string, 0, len(s))
	state := -1
	for len(s) > 0 {
		var cluster string
		cluster, s, _, state = uniseg.FirstGraphemeClusterInString(s, state)
		out = append(out, cluster)
	}
	return out
}

// MatchCaseless folds and normalizes both pattern and name via
// pathname.PrepareCaseless (spec.md §4.1) before matching, so callers don't
// need to pre-fold; MatchPrepared is available when the caller already has
// folded clusters (e.g. the index-criteria engine caches folded patterns).
func MatchCaseless(pattern, name string) (Result, error) {
	foldedPattern, err := pathname.PrepareCaseless(pattern, false)
	if err != nil {
		if pattern == "" {
			foldedPattern = ""
		} else {
			return NoMatch, ltfserr.Wrap(ltfserr.InternalError, "folding pattern", err)
		}
	}
	foldedName, err := pathname.PrepareCaseless(name, false)
	if err != nil {
		if name == "" {
			foldedName = ""
		} else {
			return NoMatch, ltfserr.Wrap(ltfserr.InternalError, "folding name", err)
		}
	}
	return MatchPrepared(foldedPattern, foldedName)
}

// MatchPrepared matches a pattern against a name that have already been run
// through pathname.PrepareCaseless (or are otherwise known to be directly
// comparable cluster-for-cluster).
func MatchPrepared(pattern, name string) (Result, error) {
	if pattern == "" {
		if name == "" {
			return Match, nil
		}
		return NoMatch, nil
	}

	pat := clusters(pattern)
	nam := clusters(name)

	// Collapse consecutive '*'s: a run of N>=1 stars behaves identically to
	// a single star.
	collapsed := pat[:0:0]
	for i, c := range pat {
		if c == "*" && i > 0 && pat[i-1] == "*" {
			continue
		}
		collapsed = append(collapsed, c)
	}
	pat = collapsed

	var stack []frame
	pi, ni := 0, 0

	for {
		for pi < len(pat) {
			pc := pat[pi]
			switch {
			case pc == "*":
				// Try the zero-width match first; remember this choice
				// point so that on a later mismatch we can retry having
				// consumed one more name cluster.
				stack = append(stack, frame{patternPos: pi, namePos: ni})
				pi++
				continue
			case pc == "?":
				if ni >= len(nam) {
					break
				}
				pi++
				ni++
				continue
			default:
				if ni < len(nam) && nam[ni] == pc {
					pi++
					ni++
					continue
				}
			}
			break
		}

		if pi == len(pat) && ni == len(nam) {
			return Match, nil
		}

		// Mismatch (or pattern exhausted with name left over, or vice
		// versa): backtrack to the most recent live '*' that still has
		// name clusters left to try consuming. Frames whose name position
		// has been pushed past the end of the name are exhausted and
		// popped; matching then resumes from whichever frame remains.
		for {
			if len(stack) == 0 {
				return NoMatch, nil
			}
			top := &stack[len(stack)-1]
			top.namePos++
			if top.namePos > len(nam) {
				stack = stack[:len(stack)-1]
				continue
			}
			pi = top.patternPos + 1
			ni = top.namePos
			break
		}
	}
}
