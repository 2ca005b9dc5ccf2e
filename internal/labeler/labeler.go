// Package labeler derives issue labels from free text.
package labeler

import (
	"fmt"
	"regexp"
)

// Rule maps a case-insensitive pattern to a label.
type Rule struct {
	Pattern string
	Label   string
}

// DefaultRules is the built-in rule table, in evaluation order.
var DefaultRules = []Rule{
	{Pattern: `bug|error|crash|broken|exception`, Label: "bug"},
	{Pattern: `feature|enhancement|add support|would be nice`, Label: "enhancement"},
	{Pattern: `doc|readme|typo`, Label: "documentation"},
	{Pattern: `beginner|first[- ]timer|starter|easy`, Label: "good first issue"},
	{Pattern: `question|how (do|can|to)`, Label: "question"},
	{Pattern: `security|vulnerab|cve-`, Label: "security"},
	{Pattern: `slow|performance|latency|memory leak`, Label: "performance"},
	{Pattern: `help wanted`, Label: "help wanted"},
}

type compiledRule struct {
	re    *regexp.Regexp
	label string
}

// Labeler holds a compiled rule table. It is immutable and safe for
// concurrent use.
type Labeler struct {
	rules []compiledRule
}

func New(rules []Rule) (*Labeler, error) {
	compiled := make([]compiledRule, 0, len(rules))
	for i, r := range rules {
		if r.Label == "" {
			return nil, fmt.Errorf("keyword rule %d: label is required", i)
		}
		re, err := regexp.Compile("(?i)" + r.Pattern)
		if err != nil {
			return nil, fmt.Errorf("keyword rule %d (%s): %w", i, r.Label, err)
		}
		compiled = append(compiled, compiledRule{re: re, label: r.Label})
	}
	return &Labeler{rules: compiled}, nil
}

// MustDefault returns a labeler over DefaultRules.
func MustDefault() *Labeler {
	l, err := New(DefaultRules)
	if err != nil {
		panic(err)
	}
	return l
}

// LabelsFor returns every label whose rule matches the title or body, in
// rule order with duplicates collapsed. An empty result means no labeling.
func (l *Labeler) LabelsFor(title, body string) []string {
	var labels []string
	seen := make(map[string]bool)
	for _, r := range l.rules {
		if seen[r.label] {
			continue
		}
		if r.re.MatchString(title) || r.re.MatchString(body) {
			seen[r.label] = true
			labels = append(labels, r.label)
		}
	}
	return labels
}
