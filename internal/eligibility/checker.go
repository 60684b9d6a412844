// Package eligibility decides whether a carrier may take an assignment offer.
// Rules compose with AND semantics; the first failing rule's error is returned.
package eligibility

import (
	"context"
	"errors"
	"fmt"

	"github.com/nakliyeci/carrier-jobs/pkg/apperrors"
)

// Candidate is what a rule inspects
type Candidate struct {
	OfferID     string
	ShipmentID  string
	CarrierID   string
	PickupCity  string
	CarrierCity string
}

// Rule is one eligibility predicate. Check returns nil when the candidate passes.
type Rule interface {
	Name() string
	Check(ctx context.Context, c Candidate) error
}

// RuleFunc adapts a function into a Rule
type RuleFunc struct {
	RuleName string
	Fn       func(ctx context.Context, c Candidate) error
}

// Name returns the rule name
func (r RuleFunc) Name() string { return r.RuleName }

// Check runs the function
func (r RuleFunc) Check(ctx context.Context, c Candidate) error { return r.Fn(ctx, c) }

// CityMatchRule requires the carrier's registered city to equal the pickup city
type CityMatchRule struct{}

// Name returns the rule name
func (CityMatchRule) Name() string { return "city_match" }

// Check fails with a CityMismatch error carrying both cities
func (CityMatchRule) Check(_ context.Context, c Candidate) error {
	if CityMatches(c.PickupCity, c.CarrierCity) {
		return nil
	}
	return apperrors.NewCityMismatchError(c.PickupCity, c.CarrierCity)
}

// Checker evaluates its rules in order
type Checker struct {
	rules []Rule
}

// NewChecker creates a checker over rules. With no rules it applies the city match.
func NewChecker(rules ...Rule) *Checker {
	if len(rules) == 0 {
		rules = []Rule{CityMatchRule{}}
	}
	return &Checker{rules: rules}
}

// With returns a checker that also applies extra
func (c *Checker) With(extra ...Rule) *Checker {
	rules := make([]Rule, 0, len(c.rules)+len(extra))
	rules = append(rules, c.rules...)
	rules = append(rules, extra...)
	return &Checker{rules: rules}
}

// Check returns the first rule failure, or nil
func (c *Checker) Check(ctx context.Context, candidate Candidate) error {
	for _, rule := range c.rules {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := rule.Check(ctx, candidate); err != nil {
			var appErr *apperrors.AppError
			if errors.As(err, &appErr) {
				return err
			}
			return fmt.Errorf("eligibility rule %s: %w", rule.Name(), err)
		}
	}
	return nil
}

// Rules lists the configured rule names
func (c *Checker) Rules() []string {
	names := make([]string, len(c.rules))
	for i, r := range c.rules {
		names[i] = r.Name()
	}
	return names
}
