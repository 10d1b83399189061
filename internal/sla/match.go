package sla

import (
	"fmt"
	"sort"
)

// Filter weights. Informational only: they feed the match-reason trail, the
// first non-rejected rule in priority order always wins.
const (
	weightAssetImportance = 3
	weightAssetCategory   = 2
	weightUserCategory    = 2
	weightTicketType      = 2
	weightChannel         = 1
	weightPriority        = 1
	weightWildcard        = 1
)

// Wildcard matches any present context value without ever rejecting.
const Wildcard = "all"

// MatchResult is the outcome of rule selection for one ticket context.
type MatchResult struct {
	Rule     *Rule
	Score    int
	Reasons  []string
	Fallback bool // true when the last rule was used as the default
}

// filterOutcome scores one filter against one context attribute. Unset
// filters and absent attributes leave the score untouched; a configured
// set that does not intersect a present attribute rejects the rule.
func filterOutcome(filter string, attrs []string, weight int, label string, score *int, reasons *[]string) (rejected bool) {
	if filter == "" {
		return false
	}
	present := len(attrs) > 0
	if filter == Wildcard {
		if present {
			*score += weightWildcard
			*reasons = append(*reasons, label+": wildcard")
		}
		return false
	}
	if !present {
		return false
	}
	set := splitSet(filter)
	for _, a := range attrs {
		for _, f := range set {
			if a == f {
				*score += weight
				*reasons = append(*reasons, fmt.Sprintf("%s: %s", label, a))
				return false
			}
		}
	}
	return true
}

// userCategory maps the VIP flag onto the user-category filter vocabulary.
func userCategory(tc TicketContext) []string {
	if tc.VIP {
		return []string{"vip"}
	}
	return []string{"standard"}
}

// evaluate scores a single rule against the context. ok is false when a
// hard filter rejected the rule.
func evaluate(r *Rule, tc TicketContext) (score int, reasons []string, ok bool) {
	if r.VIPOverride {
		if !tc.VIP {
			return 0, nil, false
		}
		score += weightUserCategory
		reasons = append(reasons, "vip override")
	}
	single := func(v string) []string {
		if v == "" {
			return nil
		}
		return []string{v}
	}
	checks := []struct {
		filter string
		attrs  []string
		weight int
		label  string
	}{
		{r.AssetImportance, single(tc.AssetImportance), weightAssetImportance, "asset importance"},
		{r.AssetCategories, tc.AssetCategories, weightAssetCategory, "asset category"},
		{r.UserCategory, userCategory(tc), weightUserCategory, "user category"},
		{r.TicketType, single(tc.TicketType), weightTicketType, "ticket type"},
		{r.TicketChannels, single(tc.Channel), weightChannel, "channel"},
		{r.Priority, single(tc.Priority), weightPriority, "priority"},
	}
	for _, ch := range checks {
		if filterOutcome(ch.filter, ch.attrs, ch.weight, ch.label, &score, &reasons) {
			return 0, nil, false
		}
	}
	return score, reasons, true
}

// Match selects exactly one rule for the context: the first rule in
// ascending priority order that is not rejected and either scored or is a
// catch-all. VIP-override rules are exclusive to VIP contexts. When
// nothing matches, the last rule in order is the default fallback.
func Match(rules []Rule, tc TicketContext) (*MatchResult, error) {
	if len(rules) == 0 {
		return nil, ErrNoActiveRules
	}
	ordered := make([]*Rule, len(rules))
	for i := range rules {
		ordered[i] = &rules[i]
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].PriorityOrder < ordered[j].PriorityOrder
	})
	for _, r := range ordered {
		score, reasons, ok := evaluate(r, tc)
		if !ok {
			continue
		}
		if score > 0 {
			return &MatchResult{Rule: r, Score: score, Reasons: reasons}, nil
		}
		if !r.hasFilters() && !r.VIPOverride {
			return &MatchResult{Rule: r, Reasons: []string{"catch-all"}}, nil
		}
	}
	last := ordered[len(ordered)-1]
	return &MatchResult{Rule: last, Reasons: []string{"default fallback"}, Fallback: true}, nil
}

// ReEvaluate repeats matching and reports whether the selected rule differs
// from the currently assigned one. It never mutates tracking state; the
// caller decides whether to apply the change.
func ReEvaluate(rules []Rule, tc TicketContext, currentRuleID string) (*MatchResult, bool, error) {
	res, err := Match(rules, tc)
	if err != nil {
		return nil, false, err
	}
	return res, res.Rule.ID != currentRuleID, nil
}
