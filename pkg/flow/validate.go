package flow

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/vidaflow/vidaflow/pkg/models"
)

const definitionSchema = `{
	"type": "object",
	"required": ["name", "nodes", "edges"],
	"properties": {
		"name": {"type": "string", "minLength": 3},
		"nodes": {
			"type": "array",
			"minItems": 1,
			"items": {
				"type": "object",
				"required": ["id", "type"],
				"properties": {
					"id": {"type": "string", "minLength": 1},
					"type": {
						"type": "string",
						"enum": [
							"start", "end", "formStart", "formEnd",
							"formSelect", "delay", "question", "calculator",
							"conditions", "specialConditions", "number"
						]
					},
					"delay_minutes": {"type": "integer", "minimum": 0}
				}
			}
		},
		"edges": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["id", "source", "target"],
				"properties": {
					"id": {"type": "string", "minLength": 1},
					"source": {"type": "string", "minLength": 1},
					"target": {"type": "string", "minLength": 1}
				}
			}
		}
	}
}`

// ValidateDefinition checks a raw flow definition document against the
// definition schema plus the structural rules the schema cannot express:
// exactly one start node, and edges that reference existing nodes.
func ValidateDefinition(raw []byte) error {
	schemaLoader := gojsonschema.NewStringLoader(definitionSchema)
	documentLoader := gojsonschema.NewBytesLoader(raw)

	result, err := gojsonschema.Validate(schemaLoader, documentLoader)
	if err != nil {
		return fmt.Errorf("failed to validate flow definition: %w", err)
	}

	if !result.Valid() {
		var descriptions []string
		for _, desc := range result.Errors() {
			descriptions = append(descriptions, desc.String())
		}

		return fmt.Errorf("invalid flow definition: %s", strings.Join(descriptions, "; "))
	}

	return nil
}

// ValidateStructure applies the graph rules on an already-decoded definition.
func ValidateStructure(definition *models.FlowDefinition) error {
	startCount := 0
	nodeIDs := make(map[string]bool, len(definition.Nodes))

	for _, node := range definition.Nodes {
		if node.Type == models.NodeStart {
			startCount++
		}

		if nodeIDs[node.ID] {
			return fmt.Errorf("duplicate node id %q", node.ID)
		}

		nodeIDs[node.ID] = true
	}

	if startCount != 1 {
		return fmt.Errorf("flow must have exactly one start node, found %d", startCount)
	}

	for _, edge := range definition.Edges {
		if !nodeIDs[edge.Source] {
			return fmt.Errorf("edge %s references unknown source node %q", edge.ID, edge.Source)
		}

		if !nodeIDs[edge.Target] {
			return fmt.Errorf("edge %s references unknown target node %q", edge.ID, edge.Target)
		}
	}

	return nil
}
