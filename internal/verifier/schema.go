package verifier

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// acceptanceSchemaJSON is the fixed contract a model's acceptance-check reply
// must satisfy: {"status": "pass"|"fail"|"unknown", "evidence": "..."}.
const acceptanceSchemaJSON = `{
	"type": "object",
	"required": ["status", "evidence"],
	"properties": {
		"status": {"type": "string", "enum": ["pass", "fail", "unknown"]},
		"evidence": {"type": "string"}
	}
}`

func compileAcceptanceSchema() (*jsonschema.Schema, error) {
	var schemaDoc any
	if err := json.Unmarshal([]byte(acceptanceSchemaJSON), &schemaDoc); err != nil {
		return nil, fmt.Errorf("verifier: unmarshal acceptance schema: %w", err)
	}

	c := jsonschema.NewCompiler()
	if err := c.AddResource("acceptance.json", schemaDoc); err != nil {
		return nil, fmt.Errorf("verifier: add schema resource: %w", err)
	}
	schema, err := c.Compile("acceptance.json")
	if err != nil {
		return nil, fmt.Errorf("verifier: compile acceptance schema: %w", err)
	}
	return schema, nil
}

// validateAcceptanceReply validates raw against the fixed acceptance schema.
// A validation failure is never surfaced as an error to the caller: per the
// component design, a reply that doesn't parse or doesn't conform yields
// status=unknown rather than failing the step outright.
func validateAcceptanceReply(schema *jsonschema.Schema, raw []byte) (status string, evidence string, ok bool) {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return "unknown", "", false
	}
	if err := schema.Validate(doc); err != nil {
		return "unknown", "", false
	}

	m, isMap := doc.(map[string]any)
	if !isMap {
		return "unknown", "", false
	}
	s, _ := m["status"].(string)
	e, _ := m["evidence"].(string)
	return s, e, true
}
