// Package criteria implements the index-partition criteria engine (spec.md
// §4.3): parsing a "name=<pat>[:<pat>...]/size=<N>[kmg]" rule string and
// deciding which dentries qualify for duplication onto the index partition.
// The grammar and the name=/size= error split are ported from the rule
// ("11xxxE") error taxonomy in index_criteria.c in original_source/, but
// expressed with Go's multi-value returns instead of the C source's
// negative-errno convention.
package criteria

import (
	"strconv"
	"strings"

	"github.com/ltfscore/ltfscore/internal/globmatch"
	"github.com/ltfscore/ltfscore/internal/ltfserr"
	"github.com/ltfscore/ltfscore/internal/pathname"
)

// Criteria is the parsed, possibly-empty index partition policy for one
// volume (spec.md §3, "Index-partition criteria").
type Criteria struct {
	HaveCriteria     bool
	MaxFilesizeBytes uint64
	GlobPatterns     []string

	folded []string
}

// Dentry is the minimal view of a dentry the matcher needs: a name and a
// size, which callers copy out of a dentry, so this package does not import
// the dentry package.
type Dentry struct {
	Name string
	Size uint64
}

// Empty returns the criteria meaning "no policy": every Match call returns
// false, matching the zero-value struct.
func Empty() *Criteria {
	return &Criteria{}
}

// Parse parses an index-criteria rule string. An empty rule string yields
// Empty(), not an error (spec.md says only a malformed or structurally
// empty rule fails).
func Parse(rule string) (*Criteria, error) {
	if rule == "" {
		return Empty(), nil
	}

	if err := checkKnownOptions(rule); err != nil {
		return nil, err
	}

	ic := &Criteria{HaveCriteria: true}

	nameSection, hasName, err := findOption(rule, "name=")
	if err != nil {
		return nil, err
	}
	if hasName {
		patterns, err := parseName(nameSection)
		if err != nil {
			return nil, err
		}
		ic.GlobPatterns = patterns
	}

	sizeSection, hasSize, err := findOption(rule, "size=")
	if err != nil {
		return nil, err
	}
	switch {
	case hasSize:
		n, err := parseSize(sizeSection)
		if err != nil {
			return nil, err
		}
		ic.MaxFilesizeBytes = n
	case hasName:
		return nil, ltfserr.New(ltfserr.PolicyInvalid, "name= requires size= to also be specified")
	}

	return ic, nil
}

// checkKnownOptions rejects rule strings whose '/'-delimited segments don't
// all start with a recognized option key.
func checkKnownOptions(rule string) error {
	for _, segment := range strings.Split(rule, "/") {
		lower := strings.ToLower(segment)
		if !strings.HasPrefix(lower, "name=") && !strings.HasPrefix(lower, "size=") {
			return ltfserr.New(ltfserr.PolicyInvalid, "unrecognized index criteria option: "+segment)
		}
	}
	return nil
}

// findOption locates the (at most one) segment beginning with the given
// case-insensitive key and returns its full text (key included). Returns
// ok=false, err=nil if the key is absent; an error if it appears more than
// once.
func findOption(rule, key string) (value string, ok bool, err error) {
	segments := strings.Split(rule, "/")
	for _, segment := range segments {
		if len(segment) < len(key) {
			continue
		}
		if strings.EqualFold(segment[:len(key)], key) {
			if ok {
				return "", false, ltfserr.New(ltfserr.PolicyInvalid, "duplicate "+key+" option")
			}
			value = segment
			ok = true
		}
	}
	return value, ok, nil
}

// parseName parses a "name=<pat>[:<pat>...]" segment into its glob
// patterns, rejecting empty patterns from adjacent, leading, or trailing
// colons (matching LTFS_POLICY_EMPTY_RULE in the original source).
func parseName(segment string) ([]string, error) {
	body := segment[len("name="):]
	if body == "" {
		return nil, ltfserr.New(ltfserr.PolicyEmptyRule, "name= requires at least one pattern")
	}

	patterns := strings.Split(body, ":")
	for _, p := range patterns {
		if p == "" {
			return nil, ltfserr.New(ltfserr.PolicyEmptyRule, "name= contains an empty pattern")
		}
		if err := pathname.ValidateFile(p); err != nil {
			return nil, err
		}
	}
	return patterns, nil
}

// parseSize parses a "size=<N>[kKmMgG]" segment into a byte count. Digits
// must lead; at most one trailing unit letter is allowed.
func parseSize(segment string) (uint64, error) {
	body := segment[len("size="):]
	if body == "" {
		return 0, ltfserr.New(ltfserr.PolicyInvalid, "size= requires a value")
	}

	multiplier := uint64(1)
	last := body[len(body)-1]
	digits := body
	switch last {
	case 'k', 'K':
		multiplier = 1024
		digits = body[:len(body)-1]
	case 'm', 'M':
		multiplier = 1024 * 1024
		digits = body[:len(body)-1]
	case 'g', 'G':
		multiplier = 1024 * 1024 * 1024
		digits = body[:len(body)-1]
	}

	if digits == "" {
		return 0, ltfserr.New(ltfserr.PolicyInvalid, "size= has no leading digits")
	}
	for i, r := range digits {
		if r < '0' || r > '9' {
			return 0, ltfserr.New(ltfserr.PolicyInvalid, "size= digits must lead, found non-digit at position "+strconv.Itoa(i))
		}
	}

	n, err := strconv.ParseUint(digits, 10, 64)
	if err != nil {
		return 0, ltfserr.Wrap(ltfserr.PolicyInvalid, "size= value out of range", err)
	}
	return n * multiplier, nil
}

// Match reports whether d qualifies for index-partition duplication
// (spec.md §3 and §8's defining property for index_criteria_match).
func (c *Criteria) Match(d Dentry) (bool, error) {
	if c == nil || !c.HaveCriteria || c.MaxFilesizeBytes == 0 {
		return false, nil
	}
	if len(c.GlobPatterns) == 0 {
		return true, nil
	}

	if c.folded == nil {
		folded := make([]string, len(c.GlobPatterns))
		for i, p := range c.GlobPatterns {
			f, err := pathname.PrepareCaseless(p, false)
			if err != nil {
				return false, ltfserr.Wrap(ltfserr.InternalError, "folding criteria pattern", err)
			}
			folded[i] = f
		}
		c.folded = folded
	}

	dname, err := pathname.PrepareCaseless(d.Name, false)
	if err != nil {
		return false, ltfserr.Wrap(ltfserr.InternalError, "folding dentry name", err)
	}

	for _, pattern := range c.folded {
		res, err := globmatch.MatchPrepared(pattern, dname)
		if err != nil {
			return false, err
		}
		if res == globmatch.Match {
			return true, nil
		}
	}
	return false, nil
}

// Dup returns a deep copy of c, suitable for preserving the "original"
// criteria from an on-tape index separately from an "effective" override
// applied at mount time (spec.md §4.3, Duplicate).
func (c *Criteria) Dup() *Criteria {
	if c == nil {
		return Empty()
	}
	out := &Criteria{
		HaveCriteria:     c.HaveCriteria,
		MaxFilesizeBytes: c.MaxFilesizeBytes,
	}
	if c.GlobPatterns != nil {
		out.GlobPatterns = append([]string(nil), c.GlobPatterns...)
	}
	return out
}
