package pricing

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestQuoteDirect(t *testing.T) {
	r := NewRegistry()
	p, err := r.Quote(context.Background(), "u-1", "direct", "20", d("100.00"))
	require.NoError(t, err)
	assert.True(t, p.Original.Equal(d("100")))
	assert.True(t, p.Deduction.Equal(d("20")))
	assert.True(t, p.Pay.Equal(d("80")))
}

func TestQuoteDirectFloorsAtOneCent(t *testing.T) {
	r := NewRegistry()
	p, err := r.Quote(context.Background(), "u-1", "direct", "500", d("9.90"))
	require.NoError(t, err)
	assert.True(t, p.Pay.Equal(d("0.01")))
	assert.True(t, p.Deduction.Equal(d("9.89")))
}

func TestQuoteErrors(t *testing.T) {
	r := NewRegistry()
	_, err := r.Quote(context.Background(), "u-1", "mystery", "", d("1"))
	assert.ErrorIs(t, err, ErrUnknownPlan)

	_, err = r.Quote(context.Background(), "u-1", "direct", "abc", d("1"))
	assert.Error(t, err)
}

func TestRegisterCustomPlan(t *testing.T) {
	r := NewRegistry()
	r.Register("half", CalculatorFunc(func(_ context.Context, _ string, o decimal.Decimal, _ string) (decimal.Decimal, error) {
		return o.Div(decimal.NewFromInt(2)), nil
	}))
	p, err := r.Quote(context.Background(), "u-1", "half", "", d("50"))
	require.NoError(t, err)
	assert.True(t, p.Pay.Equal(d("25")))
}
