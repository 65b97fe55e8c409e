package resolve_test

import (
	"testing"

	"dealdesk/internal/domain"
	"dealdesk/internal/resolve"
)

func leads() []domain.Lead {
	return []domain.Lead{
		{ID: "1", Name: "TechSahara", Company: "TechSahara Ltd"},
		{ID: "2", Name: "Acme Rocket", Company: "ACME"},
		{ID: "3", Name: "Acme Paint", Company: "ACME"},
	}
}

func TestCaseInsensitiveMatch(t *testing.T) {
	got, ok := resolve.Lead("techsahara", leads())
	if !ok || got.ID != "1" {
		t.Fatalf("got %+v ok=%v", got, ok)
	}
}

func TestSubstringMatchesCompany(t *testing.T) {
	got, ok := resolve.Lead("acme", leads())
	if !ok {
		t.Fatal("no match")
	}
	// Several leads match; the first in insertion order wins.
	if got.ID != "2" {
		t.Fatalf("got lead %s, want first match", got.ID)
	}
}

func TestWhitespaceTrimmed(t *testing.T) {
	if _, ok := resolve.Lead("  Rocket  ", leads()); !ok {
		t.Fatal("trimmed fragment should match")
	}
}

func TestEmptyFragmentMatchesNothing(t *testing.T) {
	if _, ok := resolve.Lead("   ", leads()); ok {
		t.Fatal("empty fragment must not match")
	}
}

func TestNoMatch(t *testing.T) {
	if _, ok := resolve.Lead("globex", leads()); ok {
		t.Fatal("unexpected match")
	}
}
