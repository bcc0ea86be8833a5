package revision

import (
	"errors"
	"strings"
	"testing"
)

func TestParseRoundTrip(t *testing.T) {
	parent := mustForPayload(t, `{"title":"draft"}`, nil)
	child := mustForPayload(t, `{"title":"final"}`, &parent)

	if parent.Depth() != 1 {
		t.Fatalf("expected root depth 1, got %d", parent.Depth())
	}
	if child.Depth() != 2 {
		t.Fatalf("expected child depth 2, got %d", child.Depth())
	}

	parsed, err := Parse(child.String())
	if err != nil {
		t.Fatalf("unexpected parse error: %v", err)
	}
	if parsed.Depth() != child.Depth() || parsed.Hash() != child.Hash() {
		t.Fatalf("round trip mismatch: %s vs %s", parsed, child)
	}
}

func TestHashPayloadIsDeterministic(t *testing.T) {
	first, err := HashPayload(`{"title":"draft"}`)
	if err != nil {
		t.Fatalf("unexpected hash error: %v", err)
	}
	second, err := HashPayload(`{"title":"draft"}`)
	if err != nil {
		t.Fatalf("unexpected hash error: %v", err)
	}
	if first != second {
		t.Fatalf("hash not deterministic: %s vs %s", first, second)
	}
	other, err := HashPayload(`{"title":"final"}`)
	if err != nil {
		t.Fatalf("unexpected hash error: %v", err)
	}
	if other == first {
		t.Fatalf("distinct payloads produced equal hashes")
	}
}

func TestHashPayloadRejectsEmptyPayload(t *testing.T) {
	if _, err := HashPayload("   "); !errors.Is(err, ErrMalformedPayload) {
		t.Fatalf("expected ErrMalformedPayload, got %v", err)
	}
}

func TestParseRejectsMalformedIdentifiers(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{name: "empty", raw: ""},
		{name: "no-separator", raw: "1abc"},
		{name: "empty-depth", raw: "-abc"},
		{name: "empty-hash", raw: "3-"},
		{name: "non-integer-depth", raw: "x-abc"},
		{name: "zero-depth", raw: "0-abc"},
		{name: "negative-depth", raw: "-1-abc"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse(tt.raw); !errors.Is(err, ErrMalformedRevision) {
				t.Fatalf("expected ErrMalformedRevision for %q, got %v", tt.raw, err)
			}
		})
	}
}

func TestAncestryChainRoundTrip(t *testing.T) {
	newestFirst := []string{"ccc", "bbb", "aaa"}
	ancestry := AncestryFromChain(newestFirst)
	if ancestry != "aaa.bbb.ccc" {
		t.Fatalf("unexpected ancestry encoding: %s", ancestry)
	}
	decoded := ChainFromAncestry(ancestry)
	if len(decoded) != 3 || decoded[0] != "ccc" || decoded[2] != "aaa" {
		t.Fatalf("unexpected decoded chain: %v", decoded)
	}
	if ChainFromAncestry("") != nil {
		t.Fatalf("empty ancestry should decode to nil")
	}
}

func TestAncestorRevsDecrementsDepth(t *testing.T) {
	ancestors, err := AncestorRevs("aaa.bbb.ccc", 4)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	expected := []string{"3-ccc", "2-bbb", "1-aaa"}
	if len(ancestors) != len(expected) {
		t.Fatalf("expected %d ancestors, got %d", len(expected), len(ancestors))
	}
	for position, want := range expected {
		if ancestors[position].String() != want {
			t.Fatalf("ancestor %d: want %s, got %s", position, want, ancestors[position])
		}
	}
}

func TestAncestorRevsRejectsChainBelowRoot(t *testing.T) {
	if _, err := AncestorRevs("aaa.bbb.ccc", 3); !errors.Is(err, ErrMalformedRevision) {
		t.Fatalf("expected ErrMalformedRevision, got %v", err)
	}
}

func TestFromDocRevisions(t *testing.T) {
	rev, ancestors, err := FromDocRevisions(3, []string{"ccc", "bbb", "aaa"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rev.String() != "3-ccc" {
		t.Fatalf("unexpected revision: %s", rev)
	}
	if len(ancestors) != 2 || ancestors[0] != "bbb" || ancestors[1] != "aaa" {
		t.Fatalf("unexpected ancestors: %v", ancestors)
	}
}

func TestFromDocRevisionsRejectsInconsistentStart(t *testing.T) {
	if _, _, err := FromDocRevisions(1, []string{"bbb", "aaa"}); !errors.Is(err, ErrMalformedRevision) {
		t.Fatalf("expected ErrMalformedRevision, got %v", err)
	}
	if _, _, err := FromDocRevisions(2, nil); !errors.Is(err, ErrMalformedRevision) {
		t.Fatalf("expected ErrMalformedRevision for empty chain, got %v", err)
	}
}

func TestToDocRevisions(t *testing.T) {
	rev := mustNew(t, 3, "ccc")
	start, ids := ToDocRevisions(rev, "aaa.bbb")
	if start != 3 {
		t.Fatalf("unexpected start %d", start)
	}
	if len(ids) != 3 || ids[0] != "ccc" || ids[1] != "bbb" || ids[2] != "aaa" {
		t.Fatalf("unexpected ids: %v", ids)
	}
}

func TestTombstoneVariesWithInputs(t *testing.T) {
	first := Tombstone("doc-1", "2-aaa", 1700000000, "actor-1")
	if first != Tombstone("doc-1", "2-aaa", 1700000000, "actor-1") {
		t.Fatalf("tombstone hash not deterministic")
	}
	if first == Tombstone("doc-1", "2-aaa", 1700000001, "actor-1") {
		t.Fatalf("tombstone hash should vary with timestamp")
	}
	if first == Tombstone("doc-2", "2-aaa", 1700000000, "actor-1") {
		t.Fatalf("tombstone hash should vary with document id")
	}
	if first == Tombstone("doc-1", "2-bbb", 1700000000, "actor-1") {
		t.Fatalf("tombstone hash should vary with the target revision")
	}
	if strings.Contains(first, "-") && len(first) != 64 {
		t.Fatalf("unexpected tombstone hash shape: %s", first)
	}
}

func mustNew(t *testing.T, depth int, hash string) Revision {
	t.Helper()
	rev, err := New(depth, hash)
	if err != nil {
		t.Fatalf("unexpected revision error: %v", err)
	}
	return rev
}

func mustForPayload(t *testing.T, payload string, parent *Revision) Revision {
	t.Helper()
	rev, err := ForPayload(payload, parent)
	if err != nil {
		t.Fatalf("unexpected revision error: %v", err)
	}
	return rev
}
