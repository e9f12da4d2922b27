// Package pathname implements the LTFS pathname & Unicode service (spec.md
// §4.1): normalizing names to NFC, validating the characters LTFS and XML
// allow, and preparing names for canonical caseless matching the way
// golang.org/x/text/unicode/norm and golang.org/x/text/cases let us do it in
// pure Go instead of ICU.
package pathname

import (
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/ltfscore/ltfscore/internal/ltfserr"
)

// MaxNameCodepoints is the maximum number of Unicode code points allowed in
// a single file, directory, or xattr name (spec.md §4.1, "fixed codepoint
// count").
const MaxNameCodepoints = 255

var foldCaser = cases.Fold()

// Format converts a name to the canonical LTFS form: UTF-8, NFC. If
// validate is true the name is also checked for XML-safe characters (and,
// unless allowSlash, for '/'). This mirrors pathname_format in the original
// implementation, minus the locale round-trip (the engine only ever sees
// UTF-8 internally; Unformat is the inverse hook for callers on non-UTF-8
// locales).
func Format(name string, validate bool, allowSlash bool) (string, error) {
	if name == "" {
		return "", ltfserr.New(ltfserr.NullArg, "name")
	}
	if !utf8.ValidString(name) {
		return "", ltfserr.New(ltfserr.InvalidPath, "name is not valid UTF-8")
	}

	nfc := norm.NFC.String(name)

	if validate {
		if err := validateChars(nfc, allowSlash); err != nil {
			return "", err
		}
	}

	return nfc, nil
}

// Unformat is the inverse of Format: convert a canonical (UTF-8, NFC) name
// back to the bytes an external, locale-specific caller expects. This
// implementation treats the system locale as UTF-8 (spec.md §6: "All
// strings on tape are UTF-8 regardless"), so it is the identity function;
// it exists as a named entry point so callers that do need a locale
// conversion have one seam to hook.
func Unformat(name string) (string, error) {
	if name == "" {
		return "", ltfserr.New(ltfserr.NullArg, "name")
	}
	return name, nil
}

// NormalizeNFD returns the NFD normalization of name.
func NormalizeNFD(name string) string {
	return norm.NFD.String(name)
}

// ValidateFile validates a file or directory name: XML-safe characters, no
// '/', and at most MaxNameCodepoints code points.
func ValidateFile(name string) error {
	if name == "" {
		return ltfserr.New(ltfserr.NullArg, "name")
	}
	n := StrlenCodepoints(name)
	if n < 0 {
		return ltfserr.New(ltfserr.InvalidPath, "name is not valid UTF-8")
	}
	if n > MaxNameCodepoints {
		return ltfserr.New(ltfserr.NameTooLong, "name exceeds maximum length")
	}
	return validateChars(name, false)
}

// ValidateTarget validates a symlink target. Per spec.md §9 Open Questions,
// this implementation allows '/' in a target (it is, after all, a path) but
// forbids NUL, matching the legacy source's allow_slash=true behavior for
// symlink targets while rejecting the one byte that cannot round-trip
// through a C string.
func ValidateTarget(name string) error {
	if name == "" {
		return ltfserr.New(ltfserr.NullArg, "name")
	}
	for _, r := range name {
		if r == 0 {
			return ltfserr.New(ltfserr.InvalidPath, "symlink target contains NUL")
		}
	}
	if StrlenCodepoints(name) < 0 {
		return ltfserr.New(ltfserr.InvalidPath, "name is not valid UTF-8")
	}
	return validateChars(name, true)
}

// ValidateXattrName validates an extended attribute name; it is subject to
// the same constraints as a file name.
func ValidateXattrName(name string) error {
	return ValidateFile(name)
}

// XattrValueCheck is the result of ValidateXattrValue.
type XattrValueCheck struct {
	// XMLOK is true when the value can be embedded in the index as inline
	// text without escaping concerns beyond normal XML escaping.
	XMLOK bool
	// NeedsBase64 is the negation of XMLOK: the value must be base64
	// encoded when serialized (spec.md §3, Xattr).
	NeedsBase64 bool
}

// ValidateXattrValue checks whether an xattr value can be embedded as
// inline XML text. A value that is not well-formed UTF-8, or that contains
// a code point that is not valid in XML, must be base64 encoded instead.
func ValidateXattrValue(value []byte) (XattrValueCheck, error) {
	if value == nil {
		return XattrValueCheck{}, ltfserr.New(ltfserr.NullArg, "value")
	}
	if !utf8.Valid(value) {
		return XattrValueCheck{XMLOK: false, NeedsBase64: true}, nil
	}
	s := string(value)
	for _, r := range s {
		if !charValidInXML(r) {
			return XattrValueCheck{XMLOK: false, NeedsBase64: true}, nil
		}
	}
	return XattrValueCheck{XMLOK: true, NeedsBase64: false}, nil
}

// StrlenCodepoints counts the Unicode code points in name, or returns -1 if
// name is not valid UTF-8.
func StrlenCodepoints(name string) int {
	if !utf8.ValidString(name) {
		return -1
	}
	return utf8.RuneCountInString(name)
}

// TruncateCodepoints truncates name to at most n code points.
func TruncateCodepoints(name string, n int) string {
	if n <= 0 {
		return ""
	}
	count := 0
	for i := range name {
		if count == n {
			return name[:i]
		}
		count++
	}
	return name
}

// PrepareCaseless prepares name for canonical caseless matching, producing
// NFD(toCaseFold(NFD(name))) when useNFC is false, or the NFC form of that
// result when useNFC is true (spec.md §4.1).
//
// Per the Unicode canonical-caseless-match algorithm (and the original
// implementation's pathname_prepare_caseless): the initial NFD step is only
// necessary when the string contains U+0345 or a code point in the range
// U+1F80..U+1FFF (all such code points have a canonical decomposition
// containing U+0345); otherwise it is skipped as an optimization, with no
// change in the final result since case folding and normalization commute
// for strings that don't involve U+0345.
func PrepareCaseless(name string, useNFC bool) (string, error) {
	if name == "" {
		return "", ltfserr.New(ltfserr.NullArg, "name")
	}
	if !utf8.ValidString(name) {
		return "", ltfserr.New(ltfserr.InvalidPath, "name is not valid UTF-8")
	}

	working := name
	if needsInitialNFD(name) {
		working = norm.NFD.String(name)
	}

	folded := foldCaser.String(working)

	if useNFC {
		return norm.NFC.String(folded), nil
	}
	return norm.NFD.String(folded), nil
}

// CaselessMatch reports whether name1 and name2 are equal under canonical
// caseless matching.
func CaselessMatch(name1, name2 string) (bool, error) {
	d1, err := PrepareCaseless(name1, true)
	if err != nil {
		return false, err
	}
	d2, err := PrepareCaseless(name2, true)
	if err != nil {
		return false, err
	}
	return d1 == d2, nil
}

func needsInitialNFD(s string) bool {
	for _, r := range s {
		if r == 0x0345 || (r >= 0x1f80 && r <= 0x1fff) {
			return true
		}
	}
	return false
}

// charValidInXML implements the stricter "characters valid when embedded as
// XML element text" rule used by ValidateXattrValue: it additionally
// excludes the raw control characters C0 range except tab/LF/CR, matching
// _chars_valid_in_xml in the original source.
func charValidInXML(c rune) bool {
	switch {
	case c >= 0 && c <= 0x1f && c != 0x09 && c != 0x0a && c != 0x0d:
		return false
	case c >= 0xd800 && c <= 0xdfff:
		return false
	case c == 0xfffe || c == 0xffff:
		return false
	default:
		return true
	}
}

func validateChars(name string, allowSlash bool) error {
	for _, r := range name {
		if r == utf8.RuneError {
			return ltfserr.New(ltfserr.InvalidPath, "name is not valid UTF-8")
		}
		if !charValidInXML(r) || (!allowSlash && r == '/') {
			return ltfserr.New(ltfserr.InvalidPath, "name contains a character forbidden by LTFS/XML")
		}
	}
	return nil
}
