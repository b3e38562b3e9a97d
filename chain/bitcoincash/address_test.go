package bitcoincash

import (
	"testing"
)

// Test vector from the CashAddr specification.
const (
	legacyForm    = "1BpEi6DfDAUFd7GtittLSdBeYJvcoaVggu"
	cashAddrForm  = "qpm2qsznhks23z7629mms6s4cwef74vcwvy22gdx6a"
	canonicalForm = "bitcoincash:qpm2qsznhks23z7629mms6s4cwef74vcwvy22gdx6a"
)

func TestCanonicalize(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"legacy", legacyForm},
		{"cashaddr without prefix", cashAddrForm},
		{"cashaddr with prefix", canonicalForm},
	}
	for _, test := range tests {
		canonical, display, err := Canonicalize(test.input)
		if err != nil {
			t.Errorf("%s: Canonicalize(%q): %s", test.name, test.input, err)
			continue
		}
		if canonical != canonicalForm {
			t.Errorf("%s: canonical form is %q, expected %q", test.name, canonical, canonicalForm)
		}
		if display != test.input {
			t.Errorf("%s: display form is %q, expected the input %q", test.name, display, test.input)
		}
	}

	if _, _, err := Canonicalize("notanaddress"); err == nil {
		t.Error("Canonicalize accepted an invalid address")
	}
}

func TestMatchesCanonical(t *testing.T) {
	if !MatchesCanonical(cashAddrForm, canonicalForm) {
		t.Error("unprefixed cashaddr must match its canonical form")
	}
	if !MatchesCanonical(canonicalForm, canonicalForm) {
		t.Error("prefixed cashaddr must match itself")
	}
	if MatchesCanonical("bitcoincash:qq00000000000000000000000000000000000000000", canonicalForm) {
		t.Error("different addresses must not match")
	}
}

func TestAddressBook(t *testing.T) {
	book := NewAddressBook()
	canonical, err := book.Track(legacyForm)
	if err != nil {
		t.Fatalf("Track: %s", err)
	}
	if canonical != canonicalForm {
		t.Fatalf("Track returned %q, expected %q", canonical, canonicalForm)
	}
	if got := book.Display(canonical); got != legacyForm {
		t.Errorf("Display returned %q, expected the original %q", got, legacyForm)
	}

	book.Untrack(canonical)
	if got := book.Display(canonical); got != canonical {
		t.Errorf("Display after Untrack returned %q, expected the canonical form", got)
	}
}
