// Package rules compiles and evaluates the prioritized exit rules of
// sell_strategy.yaml.
package rules

import (
	"sort"
	"strings"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/copybot/gosol/pkg/config"
)

// Metric names usable in rule conditions.
const (
	MetricGainPercent     = "gain_percent"
	MetricHoldTimeSeconds = "hold_time_seconds"
	MetricPriceChange     = "price_change"
)

// Action of a triggered rule.
type Action string

const (
	ActionSellAll  Action = "sell_all"
	ActionSellHalf Action = "sell_half"
)

type op int

const (
	opGE op = iota
	opLE
	opGT
	opLT
	opEQ
)

type condition struct {
	metric    string
	op        op
	threshold decimal.Decimal
}

func (c condition) holds(v decimal.Decimal) bool {
	switch c.op {
	case opGE:
		return v.GreaterThanOrEqual(c.threshold)
	case opLE:
		return v.LessThanOrEqual(c.threshold)
	case opGT:
		return v.GreaterThan(c.threshold)
	case opLT:
		return v.LessThan(c.threshold)
	case opEQ:
		return v.Equal(c.threshold)
	}
	return false
}

// Rule is one compiled exit rule.
type Rule struct {
	Name       string
	Priority   int
	Action     Action
	conditions []condition
}

// Metrics is a snapshot of a position's state for evaluation.
type Metrics map[string]decimal.Decimal

// Matches reports whether every condition of the rule holds. A rule that
// references a metric missing from the snapshot does not match.
func (r *Rule) Matches(m Metrics) bool {
	for _, c := range r.conditions {
		v, ok := m[c.metric]
		if !ok || !c.holds(v) {
			return false
		}
	}
	return len(r.conditions) > 0
}

// Set is an ordered collection of compiled rules.
type Set struct {
	rules []*Rule
}

// Compile parses the configured rules into a Set ordered by priority
// (lower value evaluates first).
func Compile(cfg []config.SellRule) (*Set, error) {
	set := &Set{}
	for _, rc := range cfg {
		r := &Rule{Name: rc.Name, Priority: rc.Priority, Action: Action(rc.Action)}
		if r.Action != ActionSellAll && r.Action != ActionSellHalf {
			return nil, errors.Errorf("rules: %s: unknown action %q", rc.Name, rc.Action)
		}
		for metric, expr := range rc.Conditions {
			c, err := parseCondition(metric, expr)
			if err != nil {
				return nil, errors.Wrapf(err, "rules: %s", rc.Name)
			}
			r.conditions = append(r.conditions, c)
		}
		if len(r.conditions) == 0 {
			return nil, errors.Errorf("rules: %s has no conditions", rc.Name)
		}
		set.rules = append(set.rules, r)
	}
	sort.SliceStable(set.rules, func(i, j int) bool {
		return set.rules[i].Priority < set.rules[j].Priority
	})
	return set, nil
}

func parseCondition(metric, expr string) (condition, error) {
	switch metric {
	case MetricGainPercent, MetricHoldTimeSeconds, MetricPriceChange:
	default:
		return condition{}, errors.Errorf("unknown metric %q", metric)
	}

	s := strings.TrimSpace(expr)
	var o op
	switch {
	case strings.HasPrefix(s, ">="):
		o, s = opGE, s[2:]
	case strings.HasPrefix(s, "<="):
		o, s = opLE, s[2:]
	case strings.HasPrefix(s, ">"):
		o, s = opGT, s[1:]
	case strings.HasPrefix(s, "<"):
		o, s = opLT, s[1:]
	case strings.HasPrefix(s, "=="):
		o, s = opEQ, s[2:]
	default:
		return condition{}, errors.Errorf("condition %q must start with >=, <=, >, < or ==", expr)
	}

	threshold, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return condition{}, errors.Errorf("condition %q has a non-numeric threshold", expr)
	}
	return condition{metric: metric, op: o, threshold: threshold}, nil
}

// Evaluate returns the highest-priority matching rule, or nil.
func (s *Set) Evaluate(m Metrics) *Rule {
	for _, r := range s.rules {
		if r.Matches(m) {
			return r
		}
	}
	return nil
}

// Len returns the number of compiled rules.
func (s *Set) Len() int {
	return len(s.rules)
}
