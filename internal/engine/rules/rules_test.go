package rules

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/copybot/gosol/pkg/config"
)

func metrics(gain, hold, change string) Metrics {
	return Metrics{
		MetricGainPercent:     decimal.RequireFromString(gain),
		MetricHoldTimeSeconds: decimal.RequireFromString(hold),
		MetricPriceChange:     decimal.RequireFromString(change),
	}
}

func TestCompile_PriorityOrdering(t *testing.T) {
	set, err := Compile([]config.SellRule{
		{Name: "slow", Priority: 5, Action: "sell_half", Conditions: map[string]string{"gain_percent": ">= 10"}},
		{Name: "fast", Priority: 1, Action: "sell_all", Conditions: map[string]string{"gain_percent": ">= 10"}},
	})
	require.NoError(t, err)
	require.Equal(t, 2, set.Len())

	// Both match; the priority-1 rule must win.
	r := set.Evaluate(metrics("50", "10", "0"))
	require.NotNil(t, r)
	assert.Equal(t, "fast", r.Name)
	assert.Equal(t, ActionSellAll, r.Action)
}

func TestEvaluate_AllConditionsMustHold(t *testing.T) {
	set, err := Compile([]config.SellRule{
		{Name: "stagnant_loss", Priority: 1, Action: "sell_all", Conditions: map[string]string{
			"gain_percent":      "<= -5",
			"hold_time_seconds": ">= 600",
		}},
	})
	require.NoError(t, err)

	assert.Nil(t, set.Evaluate(metrics("-10", "300", "0")), "hold time too short")
	assert.Nil(t, set.Evaluate(metrics("5", "900", "0")), "still in profit")
	assert.NotNil(t, set.Evaluate(metrics("-10", "900", "0")))
}

func TestEvaluate_Operators(t *testing.T) {
	set, err := Compile([]config.SellRule{
		{Name: "gt", Priority: 1, Action: "sell_all", Conditions: map[string]string{"gain_percent": "> 50"}},
		{Name: "lt", Priority: 2, Action: "sell_all", Conditions: map[string]string{"price_change": "< -30"}},
	})
	require.NoError(t, err)

	assert.Nil(t, set.Evaluate(metrics("50", "0", "0")), "> is strict")
	r := set.Evaluate(metrics("50.1", "0", "0"))
	require.NotNil(t, r)
	assert.Equal(t, "gt", r.Name)

	r = set.Evaluate(metrics("0", "0", "-31"))
	require.NotNil(t, r)
	assert.Equal(t, "lt", r.Name)
}

func TestCompile_Rejects(t *testing.T) {
	_, err := Compile([]config.SellRule{
		{Name: "bad", Priority: 1, Action: "sell_all", Conditions: map[string]string{"volume": ">= 1"}},
	})
	assert.ErrorContains(t, err, "unknown metric")

	_, err = Compile([]config.SellRule{
		{Name: "bad", Priority: 1, Action: "sell_all", Conditions: map[string]string{"gain_percent": "about 50"}},
	})
	assert.ErrorContains(t, err, "must start with")

	_, err = Compile([]config.SellRule{
		{Name: "bad", Priority: 1, Action: "hodl", Conditions: map[string]string{"gain_percent": ">= 1"}},
	})
	assert.ErrorContains(t, err, "unknown action")

	_, err = Compile([]config.SellRule{
		{Name: "bad", Priority: 1, Action: "sell_all"},
	})
	assert.ErrorContains(t, err, "no conditions")
}

func TestRule_MissingMetricDoesNotMatch(t *testing.T) {
	set, err := Compile([]config.SellRule{
		{Name: "r", Priority: 1, Action: "sell_all", Conditions: map[string]string{"price_change": "<= -10"}},
	})
	require.NoError(t, err)

	assert.Nil(t, set.Evaluate(Metrics{MetricGainPercent: decimal.Zero}))
}
