// Package pricing resolves a plan id to a calculator. Discount rules live in
// the calculators; this package only dispatches and shapes the price triple.
package pricing

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ariefcatur/go-group-buy/internal/orders"
	"github.com/shopspring/decimal"
)

var ErrUnknownPlan = errors.New("unknown pricing plan")

// Calculator returns the pay price for one unit.
type Calculator interface {
	Calculate(ctx context.Context, userID string, original decimal.Decimal, planConfig string) (decimal.Decimal, error)
}

type CalculatorFunc func(ctx context.Context, userID string, original decimal.Decimal, planConfig string) (decimal.Decimal, error)

func (f CalculatorFunc) Calculate(ctx context.Context, userID string, original decimal.Decimal, planConfig string) (decimal.Decimal, error) {
	return f(ctx, userID, original, planConfig)
}

type Registry struct {
	mu    sync.RWMutex
	plans map[string]Calculator
}

// NewRegistry comes with "none" and "direct" registered.
func NewRegistry() *Registry {
	r := &Registry{plans: map[string]Calculator{}}
	r.Register("none", CalculatorFunc(noDiscount))
	r.Register("direct", CalculatorFunc(directDeduction))
	return r
}

func (r *Registry) Register(planID string, c Calculator) {
	r.mu.Lock()
	r.plans[planID] = c
	r.mu.Unlock()
}

func (r *Registry) Quote(ctx context.Context, userID, planID, planConfig string, original decimal.Decimal) (orders.Price, error) {
	r.mu.RLock()
	c, ok := r.plans[planID]
	r.mu.RUnlock()
	if !ok {
		return orders.Price{}, fmt.Errorf("%w: %s", ErrUnknownPlan, planID)
	}
	pay, err := c.Calculate(ctx, userID, original, planConfig)
	if err != nil {
		return orders.Price{}, fmt.Errorf("plan %s: %w", planID, err)
	}
	return orders.Price{
		Original:  original,
		Deduction: original.Sub(pay),
		Pay:       pay,
	}, nil
}

var minPay = decimal.New(1, -2)

func noDiscount(_ context.Context, _ string, original decimal.Decimal, _ string) (decimal.Decimal, error) {
	return original, nil
}

// directDeduction takes planConfig off the original price, never below 0.01.
func directDeduction(_ context.Context, _ string, original decimal.Decimal, planConfig string) (decimal.Decimal, error) {
	off, err := decimal.NewFromString(planConfig)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("parse deduction %q: %w", planConfig, err)
	}
	if off.IsNegative() {
		return decimal.Decimal{}, fmt.Errorf("negative deduction %s", off)
	}
	pay := original.Sub(off)
	if pay.LessThan(minPay) {
		pay = minPay
	}
	return pay.Round(2), nil
}
