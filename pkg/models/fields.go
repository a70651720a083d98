package models

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// FieldKind tags the concrete type carried by a FieldValue.
type FieldKind string

const (
	FieldNumber     FieldKind = "number"
	FieldText       FieldKind = "text"
	FieldStringList FieldKind = "list"
)

// FieldValue is a tagged union for patient-provided answers. Operators coerce
// explicitly through AsNumber/AsText instead of relying on dynamic typing.
type FieldValue struct {
	Kind   FieldKind `json:"kind"`
	Number float64   `json:"number,omitempty"`
	Text   string    `json:"text,omitempty"`
	List   []string  `json:"list,omitempty"`
}

func NumberValue(n float64) FieldValue {
	return FieldValue{Kind: FieldNumber, Number: n}
}

func TextValue(s string) FieldValue {
	return FieldValue{Kind: FieldText, Text: s}
}

func ListValue(items ...string) FieldValue {
	return FieldValue{Kind: FieldStringList, List: items}
}

// AsNumber returns the numeric form of the value. Text coerces via parsing,
// lists never coerce.
func (v FieldValue) AsNumber() (float64, bool) {
	switch v.Kind {
	case FieldNumber:
		return v.Number, true
	case FieldText:
		n, err := strconv.ParseFloat(strings.TrimSpace(v.Text), 64)
		if err != nil {
			return 0, false
		}

		return n, true
	default:
		return 0, false
	}
}

// AsText returns the string form of the value. Numbers render without a
// trailing ".0" for whole values, lists join with a comma.
func (v FieldValue) AsText() string {
	switch v.Kind {
	case FieldNumber:
		return strconv.FormatFloat(v.Number, 'f', -1, 64)
	case FieldStringList:
		return strings.Join(v.List, ",")
	default:
		return v.Text
	}
}

// CoerceValue converts an untyped JSON value (as produced by the flow builder
// or a patient response payload) into a FieldValue.
func CoerceValue(raw any) (FieldValue, error) {
	switch value := raw.(type) {
	case nil:
		return TextValue(""), nil
	case float64:
		return NumberValue(value), nil
	case int:
		return NumberValue(float64(value)), nil
	case int64:
		return NumberValue(float64(value)), nil
	case bool:
		return TextValue(strconv.FormatBool(value)), nil
	case string:
		return TextValue(value), nil
	case []any:
		items := make([]string, 0, len(value))

		for _, item := range value {
			coerced, err := CoerceValue(item)
			if err != nil {
				return FieldValue{}, err
			}

			items = append(items, coerced.AsText())
		}

		return ListValue(items...), nil
	case json.Number:
		n, err := value.Float64()
		if err != nil {
			return TextValue(value.String()), nil
		}

		return NumberValue(n), nil
	default:
		return FieldValue{}, fmt.Errorf("cannot coerce %T to a field value", raw)
	}
}

// FieldResponses accumulates answers over one flow execution, keyed by field
// nomenclature.
type FieldResponses map[string]FieldValue

// Numbers returns the subset of responses coercible to numbers, in the shape
// the formula evaluator consumes.
func (r FieldResponses) Numbers() map[string]float64 {
	numbers := make(map[string]float64, len(r))

	for nomenclatura, value := range r {
		if n, ok := value.AsNumber(); ok {
			numbers[nomenclatura] = n
		}
	}

	return numbers
}

// CalculatorFieldType distinguishes computed fields from asked ones.
type CalculatorFieldType string

const (
	FieldCalculo  CalculatorFieldType = "calculo"
	FieldPergunta CalculatorFieldType = "pergunta"
)

// CalculatorField is one ordered, nomenclature-keyed input descriptor of a
// calculator or question node. Nomenclatura is the join key referenced by
// formulas and special-condition rules.
type CalculatorField struct {
	ID           string              `json:"id"`
	Nomenclatura string              `json:"nomenclatura" validate:"required"`
	Pergunta     string              `json:"pergunta"`
	Order        int                 `json:"order"`
	FieldType    CalculatorFieldType `json:"field_type"`

	// Formula applies to calculo fields only.
	Formula string `json:"formula,omitempty"`

	// Options constrains pergunta fields to a fixed answer set.
	Options []string `json:"options,omitempty"`
}
