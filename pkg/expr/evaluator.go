// Package expr evaluates calculator formulas written against field
// nomenclatures, e.g. "peso / (altura/100)²".
package expr

import (
	"log/slog"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/dop251/goja"
)

// Evaluator substitutes nomenclature keys into a formula and evaluates the
// resulting arithmetic expression. A formula error never propagates to the
// caller: the result is 0 and the failure is logged, so a bad formula cannot
// block a patient's flow.
type Evaluator struct {
	logger *slog.Logger
}

func NewEvaluator(logger *slog.Logger) *Evaluator {
	return &Evaluator{
		logger: logger.With("module", "expr"),
	}
}

// Evaluate computes the formula against the given nomenclature values. Same
// formula and values always produce the same result; each call runs in a
// fresh VM with no ambient state.
func (e *Evaluator) Evaluate(formula string, values map[string]float64) float64 {
	if strings.TrimSpace(formula) == "" {
		return 0
	}

	expression := normalize(substitute(formula, values))

	vm := goja.New()

	result, err := vm.RunString(expression)
	if err != nil {
		e.logger.Warn("Formula evaluation failed",
			"formula", formula,
			"expression", expression,
			"error", err)

		return 0
	}

	value := result.ToFloat()
	if math.IsNaN(value) || math.IsInf(value, 0) {
		e.logger.Warn("Formula produced a non-numeric result",
			"formula", formula,
			"expression", expression)

		return 0
	}

	return value
}

// substitute replaces every whole-word occurrence of each nomenclature with
// its numeric value. Word-boundary matching keeps "peso" from corrupting
// "pesoado"; longer keys are substituted first so overlapping nomenclatures
// resolve deterministically.
func substitute(formula string, values map[string]float64) string {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}

	sort.Slice(keys, func(i, j int) bool {
		if len(keys[i]) != len(keys[j]) {
			return len(keys[i]) > len(keys[j])
		}

		return keys[i] < keys[j]
	})

	result := formula

	for _, key := range keys {
		pattern, err := regexp.Compile(`\b` + regexp.QuoteMeta(key) + `\b`)
		if err != nil {
			continue
		}

		replacement := "(" + strconv.FormatFloat(values[key], 'f', -1, 64) + ")"
		result = pattern.ReplaceAllString(result, replacement)
	}

	return result
}

// normalize rewrites glyphs the flow builder emits into operators the engine
// understands. The superscript-two glyph becomes the exponentiation operator.
func normalize(expression string) string {
	return strings.ReplaceAll(expression, "²", "**2")
}
