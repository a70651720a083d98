// Package flow turns a flow definition graph into the ordered step list an
// execution traverses.
package flow

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/vidaflow/vidaflow/pkg/conditions"
	"github.com/vidaflow/vidaflow/pkg/models"
)

// Linearizer walks a flow graph from its start node, following the single
// active outgoing edge at each step, and produces the ordered step list
// embedded into a new execution. Linearizing the same definition with the
// same known responses always yields the same list.
type Linearizer struct {
	conditions *conditions.Evaluator
	logger     *slog.Logger
}

func NewLinearizer(conditionEvaluator *conditions.Evaluator, logger *slog.Logger) *Linearizer {
	return &Linearizer{
		conditions: conditionEvaluator,
		logger:     logger.With("module", "linearizer"),
	}
}

// Linearize produces the step list for one execution. Condition nodes act as
// routers, not steps: each selects exactly one outgoing edge. Branch rules
// are evaluated against the responses known at assignment time; the first
// edge whose rule holds wins, and a node whose rules all fail passes through
// to its first outgoing edge so the branch resolves lazily at runtime.
func (l *Linearizer) Linearize(definition *models.FlowDefinition, known models.FieldResponses) ([]models.StepDescriptor, error) {
	start, err := definition.StartNode()
	if err != nil {
		return nil, err
	}

	if known == nil {
		known = models.FieldResponses{}
	}

	var steps []models.StepDescriptor

	visited := make(map[string]int)
	current := start

	for current != nil {
		// A node revisited more often than the graph has nodes means the
		// condition routing loops without progress.
		visited[current.ID]++
		if visited[current.ID] > len(definition.Nodes) {
			return nil, fmt.Errorf("flow %s: cycle detected at node %s", definition.ID, current.ID)
		}

		if isStepNode(current.Type) {
			steps = append(steps, descriptorFor(current, len(steps)))
		}

		if current.Type == models.NodeEnd {
			break
		}

		next := l.nextNode(definition, current, known)
		if next == nil {
			break
		}

		current = next
	}

	return steps, nil
}

// nextNode resolves the single active outgoing edge of a node.
func (l *Linearizer) nextNode(definition *models.FlowDefinition, node *models.Node, known models.FieldResponses) *models.Node {
	edges := definition.OutgoingEdges(node.ID)
	if len(edges) == 0 {
		return nil
	}

	if node.Type == models.NodeConditions || node.Type == models.NodeSpecialConditions {
		for _, edge := range edges {
			rule := ruleByID(node, edge.RuleID)
			if rule == nil {
				continue
			}

			if l.conditions.Evaluate(*rule, known) {
				return definition.NodeByID(edge.Target)
			}
		}

		l.logger.Debug("No condition rule matched, passing through",
			"flow_id", definition.ID,
			"node_id", node.ID)
	}

	return definition.NodeByID(edges[0].Target)
}

func ruleByID(node *models.Node, ruleID string) *models.SpecialConditionRule {
	if ruleID == "" {
		return nil
	}

	for i := range node.Rules {
		if node.Rules[i].ID == ruleID {
			return &node.Rules[i]
		}
	}

	return nil
}

// isStepNode reports whether a node type appears in the step list. start and
// end mark the graph's boundaries and condition nodes only route.
func isStepNode(nodeType models.NodeType) bool {
	switch nodeType {
	case models.NodeStart, models.NodeEnd, models.NodeConditions, models.NodeSpecialConditions:
		return false
	default:
		return true
	}
}

func descriptorFor(node *models.Node, position int) models.StepDescriptor {
	return models.StepDescriptor{
		NodeID:       node.ID,
		NodeType:     node.Type,
		Title:        node.Title,
		Description:  node.Description,
		FormID:       node.FormID,
		FormName:     node.FormName,
		DelayMinutes: node.DelayMinutes,
		Order:        position,
	}
}

// OrderedFields returns a node's fields sorted by their configured order.
// The sort is stable: the builder persists a mutable order integer that can
// collide after edits, and insertion order breaks those ties.
func OrderedFields(node *models.Node) []models.CalculatorField {
	fields := make([]models.CalculatorField, len(node.Fields))
	copy(fields, node.Fields)

	sort.SliceStable(fields, func(i, j int) bool {
		return fields[i].Order < fields[j].Order
	})

	return fields
}
