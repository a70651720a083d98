// Package models defines the core domain models for clinic flow execution.
package models

import (
	"errors"
	"time"
)

// NodeType identifies the behavior of a node inside a flow definition.
type NodeType string

const (
	NodeStart             NodeType = "start"
	NodeEnd               NodeType = "end"
	NodeFormStart         NodeType = "formStart"
	NodeFormEnd           NodeType = "formEnd"
	NodeFormSelect        NodeType = "formSelect"
	NodeDelay             NodeType = "delay"
	NodeQuestion          NodeType = "question"
	NodeCalculator        NodeType = "calculator"
	NodeConditions        NodeType = "conditions"
	NodeSpecialConditions NodeType = "specialConditions"
	NodeNumber            NodeType = "number"
)

var ErrNoStartNode = errors.New("flow has no start node")

// Node is a single element of a flow graph as produced by the flow builder.
type Node struct {
	ID          string   `json:"id"          validate:"required"`
	Type        NodeType `json:"type"        validate:"required"`
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`

	// FormID and FormName are set on formStart/formSelect nodes.
	FormID   string `json:"form_id,omitempty"`
	FormName string `json:"form_name,omitempty"`

	// DelayMinutes is the wait duration configured on delay nodes.
	DelayMinutes int `json:"delay_minutes,omitempty"`

	// Formula holds the arithmetic expression of calculator nodes, written
	// against field nomenclatures (e.g. "peso / (altura/100)²").
	Formula string `json:"formula,omitempty"`

	// Fields are the nomenclature-keyed input descriptors of calculator and
	// question nodes.
	Fields []CalculatorField `json:"fields,omitempty"`

	// Rules gate the outgoing edges of conditions/specialConditions nodes.
	Rules []SpecialConditionRule `json:"rules,omitempty"`
}

// Edge connects two nodes. Edge order in the definition is meaningful: branch
// resolution walks outgoing edges in insertion order.
type Edge struct {
	ID     string `json:"id"     validate:"required"`
	Source string `json:"source" validate:"required"`
	Target string `json:"target" validate:"required"`
	Label  string `json:"label,omitempty"`

	// RuleID optionally binds this edge to one rule of its source node.
	RuleID string `json:"rule_id,omitempty"`
}

// FlowDefinition is the flow graph built by a clinic. It is immutable once an
// execution has been created from it; executions embed their own linearized
// copy of the steps.
type FlowDefinition struct {
	ID        string    `json:"id"`
	Name      string    `json:"name" validate:"required,min=3"`
	ClinicID  string    `json:"clinic_id"`
	Nodes     []*Node   `json:"nodes"`
	Edges     []*Edge   `json:"edges"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// StartNode returns the unique start node of the flow.
func (f *FlowDefinition) StartNode() (*Node, error) {
	for _, node := range f.Nodes {
		if node.Type == NodeStart {
			return node, nil
		}
	}

	return nil, ErrNoStartNode
}

// NodeByID returns the node with the given id, or nil.
func (f *FlowDefinition) NodeByID(id string) *Node {
	for _, node := range f.Nodes {
		if node.ID == id {
			return node
		}
	}

	return nil
}

// OutgoingEdges returns the edges leaving a node, preserving definition order.
func (f *FlowDefinition) OutgoingEdges(nodeID string) []*Edge {
	var out []*Edge

	for _, edge := range f.Edges {
		if edge.Source == nodeID {
			out = append(out, edge)
		}
	}

	return out
}
