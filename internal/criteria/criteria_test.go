package criteria

import (
	"testing"

	"github.com/ltfscore/ltfscore/internal/ltfserr"
)

func TestParseEmptyRuleYieldsNoCriteria(t *testing.T) {
	c, err := Parse("")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if c.HaveCriteria {
		t.Error("expected HaveCriteria false for an empty rule string")
	}
}

func TestParseSizeOnly(t *testing.T) {
	c, err := Parse("size=1M")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if c.MaxFilesizeBytes != 1024*1024 {
		t.Errorf("MaxFilesizeBytes = %d, want %d", c.MaxFilesizeBytes, 1024*1024)
	}
	if len(c.GlobPatterns) != 0 {
		t.Errorf("expected no glob patterns, got %v", c.GlobPatterns)
	}
}

func TestParseSizeZeroDisablesCriteria(t *testing.T) {
	c, err := Parse("size=0K")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if c.MaxFilesizeBytes != 0 {
		t.Errorf("expected MaxFilesizeBytes 0, got %d", c.MaxFilesizeBytes)
	}
	match, err := c.Match(Dentry{Name: "anything", Size: 1})
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if match {
		t.Error("size=0 must disable index-partition writes entirely")
	}
}

func TestParseNameAndSize(t *testing.T) {
	c, err := Parse("size=1M/name=*.xml:*.json")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if c.MaxFilesizeBytes != 1024*1024 {
		t.Errorf("MaxFilesizeBytes = %d", c.MaxFilesizeBytes)
	}
	want := []string{"*.xml", "*.json"}
	if len(c.GlobPatterns) != len(want) {
		t.Fatalf("GlobPatterns = %v, want %v", c.GlobPatterns, want)
	}
	for i := range want {
		if c.GlobPatterns[i] != want[i] {
			t.Errorf("GlobPatterns[%d] = %q, want %q", i, c.GlobPatterns[i], want[i])
		}
	}
}

func TestParseNameWithoutSizeIsError(t *testing.T) {
	_, err := Parse("name=*.xml")
	if kind, ok := ltfserr.Of(err); !ok || kind != ltfserr.PolicyInvalid {
		t.Fatalf("expected PolicyInvalid, got %v", err)
	}
}

func TestParseEmptyPatternIsError(t *testing.T) {
	cases := []string{
		"size=1M/name=:foo",
		"size=1M/name=foo:",
		"size=1M/name=foo::bar",
	}
	for _, rule := range cases {
		_, err := Parse(rule)
		if kind, ok := ltfserr.Of(err); !ok || kind != ltfserr.PolicyEmptyRule {
			t.Errorf("Parse(%q): expected PolicyEmptyRule, got %v", rule, err)
		}
	}
}

func TestParseUnknownOptionIsError(t *testing.T) {
	_, err := Parse("size=1M/bogus=1")
	if kind, ok := ltfserr.Of(err); !ok || kind != ltfserr.PolicyInvalid {
		t.Fatalf("expected PolicyInvalid, got %v", err)
	}
}

func TestParseDuplicateOptionIsError(t *testing.T) {
	_, err := Parse("size=1M/size=2M")
	if kind, ok := ltfserr.Of(err); !ok || kind != ltfserr.PolicyInvalid {
		t.Fatalf("expected PolicyInvalid, got %v", err)
	}
}

func TestParseSizeRequiresLeadingDigits(t *testing.T) {
	_, err := Parse("size=M")
	if kind, ok := ltfserr.Of(err); !ok || kind != ltfserr.PolicyInvalid {
		t.Fatalf("expected PolicyInvalid, got %v", err)
	}
}

func TestMatchFromScenario1(t *testing.T) {
	c, err := Parse("size=1M/name=*.xml:*.json")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	match, err := c.Match(Dentry{Name: "foo.xml", Size: 1})
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if !match {
		t.Error("expected foo.xml to match *.xml:*.json")
	}

	match, err = c.Match(Dentry{Name: "foo.bin", Size: 1})
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if match {
		t.Error("expected foo.bin not to match *.xml:*.json")
	}
}

func TestMatchWithNoPatternsIsSizeOnlyGate(t *testing.T) {
	c, err := Parse("size=1M")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	match, err := c.Match(Dentry{Name: "anything.bin"})
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if !match {
		t.Error("expected criteria with no glob patterns to match every name")
	}
}

func TestMatchWithoutCriteriaIsAlwaysFalse(t *testing.T) {
	match, err := Empty().Match(Dentry{Name: "x"})
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if match {
		t.Error("expected Empty() criteria never to match")
	}
}

func TestDupPreservesOriginalIndependently(t *testing.T) {
	c, err := Parse("size=1M/name=*.xml")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	dup := c.Dup()
	dup.GlobPatterns[0] = "*.json"

	if c.GlobPatterns[0] != "*.xml" {
		t.Error("Dup should not alias the original's GlobPatterns slice")
	}
}
