package processor

import (
	"errors"
	"fmt"
	"strings"
)

// Func turns an intent into a result. It must not block; an error marks the task failed.
type Func func(intent string) (string, error)

// ErrSimulatedFailure is returned for intents asking for a simulated failure.
var ErrSimulatedFailure = errors.New("simulated processing failure")

// Rule maps a set of keywords to a response. A keyword matches when it occurs
// anywhere in the intent, ignoring case.
type Rule struct {
	Name     string
	Keywords []string
	Respond  func(intent string) (string, error)
}

// RuleProcessor evaluates rules in order; the first match wins.
type RuleProcessor struct {
	rules    []Rule
	fallback func(intent string) (string, error)
}

// NewRuleProcessor builds a processor from rules and a fallback used when nothing matches.
func NewRuleProcessor(rules []Rule, fallback func(intent string) (string, error)) *RuleProcessor {
	return &RuleProcessor{rules: rules, fallback: fallback}
}

// Default returns the reference rule table.
func Default() *RuleProcessor {
	return NewRuleProcessor(DefaultRules(), echo)
}

// DefaultRules is the reference rule table, in evaluation order.
func DefaultRules() []Rule {
	return []Rule{
		{
			Name:     "simulated_failure",
			Keywords: []string{"simulate failure"},
			Respond: func(string) (string, error) {
				return "", ErrSimulatedFailure
			},
		},
		{
			Name:     "greeting",
			Keywords: []string{"hello", "hi", "hey", "greetings"},
			Respond: func(string) (string, error) {
				return "Greetings! I am Thalos Prime, ready to assist you.", nil
			},
		},
		{
			Name:     "weather",
			Keywords: []string{"weather"},
			Respond: func(string) (string, error) {
				return "I do not have access to live weather data. Please consult a local weather service.", nil
			},
		},
		{
			Name:     "calculation",
			Keywords: []string{"calculate", "compute"},
			Respond: func(string) (string, error) {
				return "Calculation request acknowledged. Numeric evaluation is handled by a dedicated module.", nil
			},
		},
		{
			Name:     "analysis",
			Keywords: []string{"analyz", "analys"}, // analyze, analyse, analyzing, analysis
			Respond: func(intent string) (string, error) {
				return fmt.Sprintf("Analysis requested for: %s. The intent has been recorded and reviewed.", intent), nil
			},
		},
	}
}

func echo(intent string) (string, error) {
	return fmt.Sprintf("Processed intent: %s", intent), nil
}

// Process implements Func.
func (p *RuleProcessor) Process(intent string) (string, error) {
	if rule, ok := p.match(intent); ok {
		return rule.Respond(intent)
	}
	if p.fallback == nil {
		return echo(intent)
	}
	return p.fallback(intent)
}

// Match reports the name of the first rule matching intent, or "" for the fallback.
func (p *RuleProcessor) Match(intent string) string {
	rule, _ := p.match(intent)
	return rule.Name
}

func (p *RuleProcessor) match(intent string) (Rule, bool) {
	lower := strings.ToLower(intent)
	for _, rule := range p.rules {
		for _, kw := range rule.Keywords {
			if kw != "" && strings.Contains(lower, strings.ToLower(kw)) {
				return rule, true
			}
		}
	}
	return Rule{}, false
}
