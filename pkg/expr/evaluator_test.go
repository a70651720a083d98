package expr_test

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/vidaflow/vidaflow/pkg/expr"
)

func TestEvaluator_BMIFormula(t *testing.T) {
	evaluator := expr.NewEvaluator(slog.Default())

	result := evaluator.Evaluate("peso / (altura/100)²", map[string]float64{
		"peso":   70,
		"altura": 175,
	})

	assert.InDelta(t, 22.86, result, 0.01)
}

func TestEvaluator_Deterministic(t *testing.T) {
	evaluator := expr.NewEvaluator(slog.Default())
	values := map[string]float64{"peso": 82.5, "altura": 168}

	first := evaluator.Evaluate("peso / (altura/100)²", values)

	for range 50 {
		assert.Equal(t, first, evaluator.Evaluate("peso / (altura/100)²", values))
	}
}

func TestEvaluator_WordBoundarySubstitution(t *testing.T) {
	evaluator := expr.NewEvaluator(slog.Default())

	// "peso" must not corrupt "pesoado": the unknown key stays unresolved
	// and the formula fails closed to 0.
	result := evaluator.Evaluate("pesoado + 1", map[string]float64{"peso": 70})
	assert.Equal(t, float64(0), result)

	// With both keys present each resolves independently.
	result = evaluator.Evaluate("pesoado - peso", map[string]float64{
		"peso":    70,
		"pesoado": 75,
	})
	assert.Equal(t, float64(5), result)
}

func TestEvaluator_OperatorPrecedence(t *testing.T) {
	evaluator := expr.NewEvaluator(slog.Default())

	assert.Equal(t, float64(14), evaluator.Evaluate("2 + 3 * 4", nil))
	assert.Equal(t, float64(20), evaluator.Evaluate("(2 + 3) * 4", nil))
	assert.Equal(t, float64(8), evaluator.Evaluate("2 ** 3", nil))
}

func TestEvaluator_ErrorsRecoverToZero(t *testing.T) {
	evaluator := expr.NewEvaluator(slog.Default())

	assert.Equal(t, float64(0), evaluator.Evaluate("", nil))
	assert.Equal(t, float64(0), evaluator.Evaluate("peso +* 2", map[string]float64{"peso": 1}))
	assert.Equal(t, float64(0), evaluator.Evaluate("1 / 0", nil)) // Infinity is not a usable result
	assert.Equal(t, float64(0), evaluator.Evaluate("campo_desconhecido * 2", nil))
}

func TestEvaluator_NegativeAndDecimalValues(t *testing.T) {
	evaluator := expr.NewEvaluator(slog.Default())

	result := evaluator.Evaluate("delta * 2", map[string]float64{"delta": -1.5})
	assert.Equal(t, float64(-3), result)
}
