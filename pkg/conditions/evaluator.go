// Package conditions evaluates special-condition rules against the answers
// accumulated during a flow execution.
package conditions

import (
	"log/slog"
	"strings"

	"github.com/vidaflow/vidaflow/pkg/models"
)

// Evaluator applies a SpecialConditionRule to a FieldResponses map. A rule
// that references data the patient has not reached yet evaluates to false
// instead of erroring, so a misconfigured condition cannot crash a flow.
type Evaluator struct {
	logger *slog.Logger
}

func NewEvaluator(logger *slog.Logger) *Evaluator {
	return &Evaluator{
		logger: logger.With("module", "conditions"),
	}
}

// Evaluate resolves the rule to a boolean. Combination rules reduce their
// terms with AND/OR; terms are pure, so short-circuiting is safe.
func (e *Evaluator) Evaluate(rule models.SpecialConditionRule, responses models.FieldResponses) bool {
	if rule.TipoCondicao == models.CondCombinacao {
		return e.evaluateCombination(rule, responses)
	}

	return e.evaluateTerm(models.ConditionTerm{
		Campo:      rule.Campo,
		Operador:   rule.Operador,
		Valor:      rule.Valor,
		ValorFinal: rule.ValorFinal,
	}, responses)
}

func (e *Evaluator) evaluateCombination(rule models.SpecialConditionRule, responses models.FieldResponses) bool {
	if len(rule.Campos) == 0 {
		return false
	}

	if rule.OperadorCombinacao == models.CombineOr {
		for _, term := range rule.Campos {
			if e.evaluateTerm(term, responses) {
				return true
			}
		}

		return false
	}

	// AND is the default combination.
	for _, term := range rule.Campos {
		if !e.evaluateTerm(term, responses) {
			return false
		}
	}

	return true
}

func (e *Evaluator) evaluateTerm(term models.ConditionTerm, responses models.FieldResponses) bool {
	value, found := responses[term.Campo]
	if !found {
		e.logger.Debug("Condition references an unanswered field",
			"campo", term.Campo,
			"operador", term.Operador)

		return false
	}

	switch term.Operador {
	case models.OpMaior:
		left, right, ok := numericPair(value, term.Valor)
		return ok && left > right
	case models.OpMenor:
		left, right, ok := numericPair(value, term.Valor)
		return ok && left < right
	case models.OpMaiorIgual:
		left, right, ok := numericPair(value, term.Valor)
		return ok && left >= right
	case models.OpMenorIgual:
		left, right, ok := numericPair(value, term.Valor)
		return ok && left <= right
	case models.OpEntre:
		left, low, ok := numericPair(value, term.Valor)
		if !ok {
			return false
		}

		high, okHigh := coerceNumber(term.ValorFinal)

		return okHigh && left >= low && left <= high
	case models.OpContem:
		return strings.Contains(value.AsText(), coerceText(term.Valor))
	case models.OpIgual:
		return equal(value, term.Valor)
	case models.OpDiferente:
		return !equal(value, term.Valor)
	default:
		e.logger.Warn("Unknown condition operator", "operador", term.Operador)

		return false
	}
}

// equal compares numerically when both sides coerce to numbers, otherwise
// falls back to case-sensitive string equality.
func equal(value models.FieldValue, expected any) bool {
	left, leftOK := value.AsNumber()
	right, rightOK := coerceNumber(expected)

	if leftOK && rightOK {
		return left == right
	}

	return value.AsText() == coerceText(expected)
}

func numericPair(value models.FieldValue, expected any) (float64, float64, bool) {
	left, leftOK := value.AsNumber()
	right, rightOK := coerceNumber(expected)

	return left, right, leftOK && rightOK
}

func coerceNumber(raw any) (float64, bool) {
	coerced, err := models.CoerceValue(raw)
	if err != nil {
		return 0, false
	}

	return coerced.AsNumber()
}

func coerceText(raw any) string {
	coerced, err := models.CoerceValue(raw)
	if err != nil {
		return ""
	}

	return coerced.AsText()
}
