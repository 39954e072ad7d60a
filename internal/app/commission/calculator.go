// Package commission computes commissions from campaign rules and settles
// queued conversions into durable commission records.
package commission

import (
	"math"
	"sort"

	"github.com/rotisserie/eris"
	"github.com/sifan077/PowerTrack/internal/app/apperr"
	"github.com/sifan077/PowerTrack/internal/app/model"
)

// Calculate returns the commission earned by a conversion of the given value.
// period is the subscription period (1 = first) for recurring rules and 0 for
// one-off conversions.
func Calculate(value float64, rule model.CommissionRule, period int) (float64, error) {
	if err := ValidateRule(rule); err != nil {
		return 0, err
	}
	if math.IsNaN(value) || math.IsInf(value, 0) || value < 0 {
		return 0, eris.Wrapf(apperr.ErrInvalidInput, "conversion value %v", value)
	}

	var amount float64
	switch rule.Type {
	case model.CommissionFixed:
		amount = rule.Value
	case model.CommissionPercentage:
		amount = percentOf(value, rule.Value)
	case model.CommissionTiered:
		amount = tiered(value, rule)
	case model.CommissionHybrid:
		amount = rule.Value + percentOf(value, rule.PercentageBonus)
	case model.CommissionRecurring:
		amount = recurring(value, rule, period)
	}
	return roundCents(amount), nil
}

// ValidateRule reports apperr.ErrInvalidCommissionConfig when the rule cannot
// be evaluated.
func ValidateRule(rule model.CommissionRule) error {
	if rule.Value < 0 {
		return invalid("value must not be negative")
	}

	switch rule.Type {
	case model.CommissionFixed:
	case model.CommissionPercentage:
		if rule.Value > 100 {
			return invalid("percentage above 100")
		}
	case model.CommissionTiered:
		if len(rule.Tiers) == 0 {
			return invalid("tiered rule without tiers")
		}
		for i, tier := range rule.Tiers {
			if tier.Threshold < 0 || tier.Value < 0 {
				return invalid("tier %d has negative threshold or value", i)
			}
			if !rateType(tier.Type) {
				return invalid("tier %d has unknown type %q", i, tier.Type)
			}
		}
	case model.CommissionHybrid:
		if rule.PercentageBonus < 0 {
			return invalid("percentage bonus must not be negative")
		}
	case model.CommissionRecurring:
		r := rule.Recurring
		if r == nil {
			return invalid("recurring rule without recurring_rules")
		}
		if r.Duration < 0 || r.FirstMonthBonus < 0 {
			return invalid("recurring duration and bonus must not be negative")
		}
		if !rateType(r.ValueType) {
			return invalid("recurring value type %q", r.ValueType)
		}
	default:
		return invalid("unknown commission type %q", rule.Type)
	}
	return nil
}

func tiered(value float64, rule model.CommissionRule) float64 {
	tiers := make([]model.CommissionTier, len(rule.Tiers))
	copy(tiers, rule.Tiers)
	sort.SliceStable(tiers, func(i, j int) bool { return tiers[i].Threshold > tiers[j].Threshold })

	for _, tier := range tiers {
		if value >= tier.Threshold {
			return rate(value, tier.Value, tier.Type)
		}
	}
	return rule.Value
}

func recurring(value float64, rule model.CommissionRule, period int) float64 {
	r := rule.Recurring
	if period > 0 && r.Duration > 0 && period > r.Duration {
		return 0
	}
	amount := rate(value, rule.Value, r.ValueType)
	if period == 1 {
		amount += r.FirstMonthBonus
	}
	return amount
}

// rate applies a fixed or percentage rate; an empty type means percentage.
func rate(value, rateValue float64, t model.CommissionType) float64 {
	if t == model.CommissionFixed {
		return rateValue
	}
	return percentOf(value, rateValue)
}

func rateType(t model.CommissionType) bool {
	return t == "" || t == model.CommissionFixed || t == model.CommissionPercentage
}

func percentOf(value, pct float64) float64 {
	return value * pct / 100
}

func roundCents(v float64) float64 {
	return math.Round(v*100) / 100
}

func invalid(format string, args ...any) error {
	return eris.Wrapf(apperr.ErrInvalidCommissionConfig, format, args...)
}
