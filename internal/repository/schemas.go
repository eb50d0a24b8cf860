package repository

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/claimsight/document-processing-service/internal/domain"
)

// JSON Schemas enforced at the repository write boundary. Malformed
// templates and rule definitions are rejected before they can reach the
// pipeline or the rule engine.

const extractionTemplateSchema = `{
	"type": "object",
	"minProperties": 1,
	"additionalProperties": {"$ref": "#/$defs/field"},
	"$defs": {
		"field": {
			"type": "object",
			"required": ["type"],
			"properties": {
				"type": {"enum": ["string", "number", "date", "boolean", "array"]},
				"required": {"type": "boolean"},
				"description": {"type": "string"},
				"items": {
					"type": "object",
					"additionalProperties": {"$ref": "#/$defs/field"}
				}
			},
			"additionalProperties": false
		}
	}
}`

const clinicalRuleSchema = `{
	"type": "object",
	"required": ["allowed_icd_service_map"],
	"properties": {
		"allowed_icd_service_map": {
			"type": "object",
			"additionalProperties": {
				"type": "array",
				"items": {"type": "string"}
			}
		}
	}
}`

const registryRuleSchema = `{
	"type": "object",
	"properties": {
		"insuree_fields": {
			"type": "array",
			"items": {"type": "string"}
		},
		"facility_fields": {
			"type": "array",
			"items": {"type": "string"}
		}
	}
}`

const genericRuleSchema = `{"type": "object"}`

var (
	compiledTemplateSchema = jsonschema.MustCompileString("extraction_template.json", extractionTemplateSchema)

	compiledRuleSchemas = map[domain.RuleType]*jsonschema.Schema{
		domain.RuleTypeClinical:    jsonschema.MustCompileString("clinical_rule.json", clinicalRuleSchema),
		domain.RuleTypeRegistry:    jsonschema.MustCompileString("registry_rule.json", registryRuleSchema),
		domain.RuleTypeEligibility: jsonschema.MustCompileString("eligibility_rule.json", genericRuleSchema),
		domain.RuleTypeFraud:       jsonschema.MustCompileString("fraud_rule.json", genericRuleSchema),
	}
)

// validateExtractionTemplate checks a template against its schema.
func validateExtractionTemplate(template domain.ExtractionTemplate) error {
	raw, err := json.Marshal(template)
	if err != nil {
		return fmt.Errorf("failed to marshal extraction template: %w", err)
	}
	return validateAgainst(compiledTemplateSchema, raw, "extraction_template")
}

// validateRuleDefinition checks a rule definition against the schema for its
// rule type. An unknown rule type is rejected outright.
func validateRuleDefinition(ruleType domain.RuleType, definition json.RawMessage) error {
	schema, ok := compiledRuleSchemas[ruleType]
	if !ok {
		return domain.NewValidationError("rule_type", fmt.Sprintf("unknown rule type %q", ruleType))
	}
	return validateAgainst(schema, definition, "rule_definition")
}

func validateAgainst(schema *jsonschema.Schema, raw json.RawMessage, field string) error {
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return domain.NewValidationError(field, fmt.Sprintf("invalid JSON: %v", err))
	}
	if err := schema.Validate(decoded); err != nil {
		return domain.NewValidationError(field, err.Error())
	}
	return nil
}
