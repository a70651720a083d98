package models

// ConditionOperator is the comparison applied by a special-condition term.
// Operator names follow the flow builder's vocabulary.
type ConditionOperator string

const (
	OpIgual      ConditionOperator = "igual"
	OpDiferente  ConditionOperator = "diferente"
	OpMaior      ConditionOperator = "maior"
	OpMenor      ConditionOperator = "menor"
	OpMaiorIgual ConditionOperator = "maior_igual"
	OpMenorIgual ConditionOperator = "menor_igual"
	OpEntre      ConditionOperator = "entre"
	OpContem     ConditionOperator = "contem"
)

// ConditionMode selects single-field or combined evaluation.
type ConditionMode string

const (
	CondSimples    ConditionMode = "simples"
	CondCombinacao ConditionMode = "combinacao"
)

// CombinationOperator reduces combined terms.
type CombinationOperator string

const (
	CombineAnd CombinationOperator = "AND"
	CombineOr  CombinationOperator = "OR"
)

// ConditionTerm is one field test inside a combined rule. Valor and
// ValorFinal stay untyped here because the builder persists either numbers or
// strings; the evaluator coerces them against the referenced field value.
type ConditionTerm struct {
	Campo      string            `json:"campo"    validate:"required"`
	Operador   ConditionOperator `json:"operador" validate:"required"`
	Valor      any               `json:"valor"`
	ValorFinal any               `json:"valorFinal,omitempty"`
}

// SpecialConditionRule gates a transition on the answers accumulated so far.
type SpecialConditionRule struct {
	ID           string        `json:"id"`
	Tipos        []string      `json:"tipos,omitempty"`
	TipoCondicao ConditionMode `json:"tipoCondicao" validate:"required"`

	// Single-field mode.
	Campo      string            `json:"campo,omitempty"`
	Operador   ConditionOperator `json:"operador,omitempty"`
	Valor      any               `json:"valor,omitempty"`
	ValorFinal any               `json:"valorFinal,omitempty"`

	// Combination mode.
	Campos             []ConditionTerm     `json:"campos,omitempty"`
	OperadorCombinacao CombinationOperator `json:"operadorCombinacao,omitempty"`

	Label string `json:"label,omitempty"`
}
