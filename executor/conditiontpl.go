package executor

import (
	"encoding/json"
	"fmt"

	"github.com/c360studio/agentflow/condition"
	"github.com/c360studio/agentflow/template"
)

// resolveConditionTemplates runs template resolution over a legacy
// condition string before handing it to the condition evaluator, which
// (per its own contract) only accepts already-resolved literals. A
// structured v2.0 rule tree addresses step fields directly by id and
// needs no template pass, so it is returned unchanged.
func resolveConditionTemplates(raw json.RawMessage, outputs template.Outputs, ctx template.Context) (json.RawMessage, error) {
	kind, err := condition.Classify(raw)
	if err != nil {
		return nil, err
	}
	if kind != condition.KindLegacy {
		return raw, nil
	}

	var expr string
	if err := json.Unmarshal(raw, &expr); err != nil {
		return nil, fmt.Errorf("executor: invalid legacy condition: %w", err)
	}

	resolved := template.Resolve(expr, outputs, ctx)
	out, err := json.Marshal(resolved)
	if err != nil {
		return nil, fmt.Errorf("executor: marshal resolved condition: %w", err)
	}
	return out, nil
}
