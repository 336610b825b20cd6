package aci

import "testing"

func TestParse_RoundTrip(t *testing.T) {
	in := "a3i.vorion.banquet-advisor:FHC-L3@1.2.0#gov,audit"
	parsed, err := Parse(in)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if parsed.Registry != "a3i" || parsed.Org != "vorion" || parsed.Class != "banquet-advisor" {
		t.Fatalf("unexpected identity fields: %+v", parsed)
	}
	if parsed.Mask != "FHC" {
		t.Fatalf("expected mask FHC, got %q", parsed.Mask)
	}
	if parsed.Level != 3 {
		t.Fatalf("expected level 3, got %d", parsed.Level)
	}
	if parsed.Version.String() != "1.2.0" {
		t.Fatalf("expected version 1.2.0, got %s", parsed.Version.String())
	}
	if !parsed.HasExtension("gov") || !parsed.HasExtension("audit") {
		t.Fatalf("expected extensions gov,audit, got %v", parsed.Extensions)
	}
	if got := parsed.String(); got != in {
		t.Fatalf("round trip mismatch: got %q, want %q", got, in)
	}
}

func TestParse_NoExtensions(t *testing.T) {
	in := "a3i.vorion.core:R-L0@0.1.0"
	parsed, err := Parse(in)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(parsed.Extensions) != 0 {
		t.Fatalf("expected no extensions, got %v", parsed.Extensions)
	}
	if got := parsed.String(); got != in {
		t.Fatalf("round trip mismatch: got %q, want %q", got, in)
	}
}

func TestParse_RejectsMalformed(t *testing.T) {
	cases := []string{
		"missing-at-sign:FHC-L3",
		"a.b.c:FHC-L3@notsemver",
		"a.b.c-L3@1.0.0",      // missing mask separator
		"a.b:FHC-L3@1.0.0",    // identity not 3 dotted fields
		"a.b.c:FHC-X3@1.0.0",  // level token not starting with L
		"a.b.c:FHC-L9@1.0.0",  // level out of range
		"a.b.c:-L3@1.0.0",     // empty mask
	}
	for _, c := range cases {
		if _, err := Parse(c); err == nil {
			t.Errorf("expected Parse(%q) to fail", c)
		}
	}
}

func TestSatisfiesVersion(t *testing.T) {
	parsed, err := Parse("a3i.vorion.core:R-L0@1.5.0")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	ok, err := parsed.SatisfiesVersion(">= 1.0.0, < 2.0.0")
	if err != nil {
		t.Fatalf("SatisfiesVersion: %v", err)
	}
	if !ok {
		t.Fatal("expected 1.5.0 to satisfy >=1.0.0,<2.0.0")
	}

	ok2, err := parsed.SatisfiesVersion(">= 2.0.0")
	if err != nil {
		t.Fatalf("SatisfiesVersion: %v", err)
	}
	if ok2 {
		t.Fatal("expected 1.5.0 to not satisfy >=2.0.0")
	}
}
