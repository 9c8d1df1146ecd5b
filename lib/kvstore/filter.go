package kvstore

import "regexp"

// Combinator is how a Filter combines its key and originator predicates
// (§4.4).
type Combinator uint8

const (
	CombinatorOR Combinator = iota
	CombinatorAND
)

// Filter is the (key_regex_set, originator_id_set) pair used throughout
// the request and subscription surfaces (§4.4, §6 KeyDumpParams).
//
// An empty key_regex_set matches every key; an empty originator_id_set
// matches every originator - both boundary behaviors named in §8.
type Filter struct {
	keyPatterns   []*regexp.Regexp
	originatorIDs map[string]struct{}
	combinator    Combinator
}

// NewFilter compiles a Filter from raw regex patterns and originator ids.
// Patterns are anchored (§4.4 "anchored matching") the way regexp.MustCompile
// with an implicit ^...$ would not be: each pattern is wrapped so a
// caller-supplied "key33" matches only keys beginning with "key33", not
// keys that merely contain it, matching the "^key33" behavior spec §8's
// scenario 5 exercises.
func NewFilter(keyPatterns []string, originatorIDs []string, combinator Combinator) (Filter, error) {
	compiled := make([]*regexp.Regexp, 0, len(keyPatterns))
	for _, p := range keyPatterns {
		re, err := regexp.Compile("^(?:" + p + ")")
		if err != nil {
			return Filter{}, NewError(CodeInvalidRequest, "invalid key pattern %q: %v", p, err)
		}
		compiled = append(compiled, re)
	}

	var ids map[string]struct{}
	if len(originatorIDs) > 0 {
		ids = make(map[string]struct{}, len(originatorIDs))
		for _, id := range originatorIDs {
			ids[id] = struct{}{}
		}
	}

	return Filter{keyPatterns: compiled, originatorIDs: ids, combinator: combinator}, nil
}

// MatchAllFilter is the filter that matches every key and originator,
// used whenever no filter is supplied on the merge path (§4.1 step 1) or
// the request surface (§4.5 set == merge(batch, none)).
var MatchAllFilter = Filter{}

func (f Filter) matchesKey(key string) bool {
	if len(f.keyPatterns) == 0 {
		return true
	}
	for _, re := range f.keyPatterns {
		if re.MatchString(key) {
			return true
		}
	}
	return false
}

func (f Filter) matchesOriginator(originatorID string) bool {
	if len(f.originatorIDs) == 0 {
		return true
	}
	_, ok := f.originatorIDs[originatorID]
	return ok
}

// Match reports whether (key, originatorID) matches the filter under its
// combinator (§4.4). An unconstrained predicate (empty pattern or
// originator set) is excluded from the OR combination rather than voting
// true, so an originator-only filter under the default OR doesn't
// vacuously match every key.
func (f Filter) Match(key, originatorID string) bool {
	hasKeyPatterns := len(f.keyPatterns) > 0
	hasOriginators := len(f.originatorIDs) > 0

	if !hasKeyPatterns && !hasOriginators {
		return true
	}

	keyMatch := f.matchesKey(key)
	originatorMatch := f.matchesOriginator(originatorID)

	if f.combinator == CombinatorAND {
		return keyMatch && originatorMatch
	}

	switch {
	case hasKeyPatterns && hasOriginators:
		return keyMatch || originatorMatch
	case hasKeyPatterns:
		return keyMatch
	default:
		return originatorMatch
	}
}

// IsEmpty reports whether the filter has no key patterns and no
// originator restriction, i.e. it matches everything unconditionally.
func (f Filter) IsEmpty() bool {
	return len(f.keyPatterns) == 0 && len(f.originatorIDs) == 0
}
