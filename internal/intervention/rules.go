// Package intervention matches emotion state against a declarative rule
// table and dispatches UI interventions.
package intervention

import (
	"sort"
	"time"
)

// Template describes the UI action a rule produces.
type Template struct {
	InterventionType string
	Message          string
	Timing           string
}

// Rule is a static mapping from emotion conditions to an intervention
// template. Loaded at start, never mutated at runtime.
type Rule struct {
	Name            string
	TriggerEmotions []string
	Cooldown        time.Duration
	Priority        int
	Template        Template
}

// ThresholdRule fires a named rule when a single vector component exceeds a
// floor, regardless of which emotion is dominant.
type ThresholdRule struct {
	Component string
	Min       int
	Rule      string
}

// RuleSet indexes rules for the two matching passes.
type RuleSet struct {
	rules      map[string]Rule
	byEmotion  map[string][]string
	thresholds []ThresholdRule
}

// NewRuleSet builds the lookup indexes from a rule table.
func NewRuleSet(rules []Rule, thresholds []ThresholdRule) *RuleSet {
	rs := &RuleSet{
		rules:      make(map[string]Rule, len(rules)),
		byEmotion:  make(map[string][]string),
		thresholds: thresholds,
	}
	for _, r := range rules {
		rs.rules[r.Name] = r
		for _, emotion := range r.TriggerEmotions {
			rs.byEmotion[emotion] = append(rs.byEmotion[emotion], r.Name)
		}
	}
	for _, names := range rs.byEmotion {
		sort.Strings(names)
	}
	return rs
}

// Rule returns the rule by name.
func (rs *RuleSet) Rule(name string) (Rule, bool) {
	r, ok := rs.rules[name]
	return r, ok
}

// RulesForEmotion returns the rule names mapped to a dominant emotion.
func (rs *RuleSet) RulesForEmotion(emotion string) []string {
	return rs.byEmotion[emotion]
}

// Thresholds returns the specific-vector threshold rules.
func (rs *RuleSet) Thresholds() []ThresholdRule {
	return rs.thresholds
}

// DefaultRules returns the production rule table.
func DefaultRules(cooldown time.Duration) *RuleSet {
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	rules := []Rule{
		{
			Name:            "help",
			TriggerEmotions: []string{"frustration"},
			Cooldown:        cooldown,
			Priority:        100,
			Template: Template{
				InterventionType: "help_offer",
				Message:          "Looks like something isn't working. Want a hand?",
				Timing:           "immediate",
			},
		},
		{
			Name:            "trust",
			TriggerEmotions: []string{"confusion"},
			Cooldown:        cooldown,
			Priority:        80,
			Template: Template{
				InterventionType: "trust_signal",
				Message:          "Here's a quick overview of how this works.",
				Timing:           "immediate",
			},
		},
		{
			Name:            "checkout_nudge",
			TriggerEmotions: []string{"intention"},
			Cooldown:        cooldown,
			Priority:        60,
			Template: Template{
				InterventionType: "checkout_nudge",
				Message:          "Ready when you are — your selection is saved.",
				Timing:           "delayed",
			},
		},
		{
			Name:            "social_proof",
			TriggerEmotions: []string{"interest", "excitement"},
			Cooldown:        cooldown,
			Priority:        50,
			Template: Template{
				InterventionType: "social_proof",
				Message:          "Trusted by 2,400 teams.",
				Timing:           "delayed",
			},
		},
	}
	thresholds := []ThresholdRule{
		{Component: "frustration", Min: 50, Rule: "help"},
		{Component: "confusion", Min: 40, Rule: "trust"},
	}
	return NewRuleSet(rules, thresholds)
}
