package kvstore

import "testing"

// TestFilterEmptyMatchesAll covers §8's boundary behavior: "empty filter
// matches all".
func TestFilterEmptyMatchesAll(t *testing.T) {
	if !MatchAllFilter.Match("any-key", "any-node") {
		t.Fatalf("expected the empty filter to match everything")
	}
}

// TestFilterRegexNoMatch covers §8: "regex no-match yields empty dump".
func TestFilterRegexNoMatch(t *testing.T) {
	f, err := NewFilter([]string{"key33"}, nil, CombinatorOR)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.Match("otherkey", "node1") {
		t.Fatalf("expected no match for a key outside the pattern")
	}
}

// TestFilterAndCombinator covers scenario 5: keys=["key33"],
// originators={"node33"}, oper=AND must require both to match.
func TestFilterAndCombinator(t *testing.T) {
	f, err := NewFilter([]string{"key33"}, []string{"node33"}, CombinatorAND)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	cases := []struct {
		key, originator string
		want            bool
	}{
		{"key33", "node33", true},
		{"key333", "node33", true},
		{"key33", "node34", false},
		{"otherkey", "node33", false},
	}

	for _, c := range cases {
		if got := f.Match(c.key, c.originator); got != c.want {
			t.Errorf("Match(%q, %q) = %v, want %v", c.key, c.originator, got, c.want)
		}
	}
}

// TestFilterOrCombinator covers scenario 6: keys=["key3"],
// originators={"node3"}, OR - either side matching is enough.
func TestFilterOrCombinator(t *testing.T) {
	f, err := NewFilter([]string{"key3"}, []string{"node3"}, CombinatorOR)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !f.Match("key3", "someoneelse") {
		t.Fatalf("expected key match alone to satisfy OR")
	}
	if !f.Match("unrelated", "node3") {
		t.Fatalf("expected originator match alone to satisfy OR")
	}
	if f.Match("unrelated", "someoneelse") {
		t.Fatalf("expected neither matching to fail OR")
	}
}

// TestFilterOrCombinatorSingleAxis covers a filter with only one axis
// constrained under OR: the unconstrained axis must not vacuously match
// everything.
func TestFilterOrCombinatorSingleAxis(t *testing.T) {
	byOriginator, err := NewFilter(nil, []string{"node3"}, CombinatorOR)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if byOriginator.Match("anykey", "othernode") {
		t.Fatalf("expected originator-only filter to reject a key from an unrelated originator")
	}
	if !byOriginator.Match("anykey", "node3") {
		t.Fatalf("expected originator-only filter to accept any key from the matching originator")
	}

	byKey, err := NewFilter([]string{"key3"}, nil, CombinatorOR)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if byKey.Match("unrelated", "node3") {
		t.Fatalf("expected key-only filter to reject a key that doesn't match, regardless of originator")
	}
}

func TestFilterAnchoredMatching(t *testing.T) {
	f, err := NewFilter([]string{"key33"}, nil, CombinatorOR)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.Match("prefixkey33", "n") {
		t.Fatalf("expected anchored pattern to reject a key that only contains it")
	}
	if !f.Match("key333", "n") {
		t.Fatalf("expected anchored pattern to accept a key that starts with it")
	}
}
