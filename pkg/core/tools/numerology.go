package tools

// Tool names the assistant can call during a conversation.
const (
	ToolLifePath       = "calculate_life_path"
	ToolExpression     = "calculate_expression_number"
	ToolSoulUrge       = "calculate_soul_urge_number"
	ToolInterpretation = "get_number_interpretation"
)

// NumerologyDefinitions returns the function schemas for the numerology
// assistant. The calculations themselves live behind injected handlers; only
// the contract the model sees is fixed here.
func NumerologyDefinitions() map[string]Definition {
	return map[string]Definition{
		ToolLifePath: {
			Name: ToolLifePath,
			Description: "Calculate the user's Life Path number from their birth date. " +
				"Use when the user asks about their life purpose or provides a birth date. " +
				"Returns 1-9 or a master number (11, 22, 33).",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"birth_date": map[string]any{
						"type":        "string",
						"format":      "date",
						"description": "Birth date in YYYY-MM-DD format, e.g. 1990-05-15.",
					},
				},
				"required": []string{"birth_date"},
			},
		},
		ToolExpression: {
			Name: ToolExpression,
			Description: "Calculate the user's Expression number from their full birth name. " +
				"Reveals natural talents and abilities. Returns 1-9 or a master number.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"full_name": map[string]any{
						"type":        "string",
						"description": "Full birth name as given at birth, e.g. 'John Michael Smith'.",
					},
				},
				"required": []string{"full_name"},
			},
		},
		ToolSoulUrge: {
			Name: ToolSoulUrge,
			Description: "Calculate the user's Soul Urge number from the vowels of their full " +
				"birth name. Reveals inner motivations. Returns 1-9 or a master number.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"full_name": map[string]any{
						"type":        "string",
						"description": "Full birth name as given at birth.",
					},
				},
				"required": []string{"full_name"},
			},
		},
		ToolInterpretation: {
			Name: ToolInterpretation,
			Description: "Retrieve the interpretation for a calculated numerology number. " +
				"Use after a calculation to give the user detailed guidance.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"number_type": map[string]any{
						"type": "string",
						"enum": []string{"life_path", "expression", "soul_urge", "birthday", "personal_year"},
					},
					"number_value": map[string]any{
						"type":        "integer",
						"description": "1-9 or a master number (11, 22, 33).",
					},
					"category": map[string]any{
						"type":        "string",
						"enum":        []string{"personality", "strengths", "challenges", "career", "relationships", "purpose"},
						"description": "Optional category; omit for all categories.",
					},
				},
				"required": []string{"number_type", "number_value"},
			},
		},
	}
}

// NumerologyBindings pairs the schemas with caller-supplied handlers,
// skipping any tool the caller leaves nil.
func NumerologyBindings(handlers map[string]Handler) []Binding {
	defs := NumerologyDefinitions()
	out := make([]Binding, 0, len(handlers))
	for name, h := range handlers {
		def, ok := defs[name]
		if !ok || h == nil {
			continue
		}
		out = append(out, Binding{Definition: def, Handler: h})
	}
	return out
}
