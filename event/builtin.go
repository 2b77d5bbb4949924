package event

// Built-in schemas for the core restaurant event kinds. Embedders with their
// own vocabulary register kinds on a fresh Registry instead.
var builtinSchemas = map[Kind][]byte{
	{Name: "sale.recorded", Version: 1}: []byte(`{
		"type": "object",
		"properties": {
			"total":    {"type": "number", "minimum": 0},
			"currency": {"type": "string"},
			"items": {
				"type": "array",
				"items": {
					"type": "object",
					"properties": {
						"sku":      {"type": "string"},
						"quantity": {"type": "integer", "minimum": 1},
						"price":    {"type": "number", "minimum": 0}
					},
					"required": ["sku", "quantity"]
				}
			}
		},
		"required": ["total"]
	}`),
	{Name: "customer.profile.upserted", Version: 1}: []byte(`{
		"type": "object",
		"properties": {
			"name":  {"type": "string", "minLength": 1},
			"email": {"type": "string"},
			"phone": {"type": "string"}
		},
		"required": ["name"]
	}`),
	{Name: "inventory.adjusted", Version: 1}: []byte(`{
		"type": "object",
		"properties": {
			"sku":    {"type": "string", "minLength": 1},
			"delta":  {"type": "integer"},
			"reason": {"type": "string"}
		},
		"required": ["sku", "delta"]
	}`),
	{Name: "shift.closed", Version: 1}: []byte(`{
		"type": "object",
		"properties": {
			"register":   {"type": "string"},
			"cash_total": {"type": "number", "minimum": 0}
		},
		"required": ["register"]
	}`),
}

// NewDefaultRegistry returns a registry pre-loaded with the built-in kinds.
func NewDefaultRegistry() (*Registry, error) {
	reg := NewRegistry()
	for kind, schema := range builtinSchemas {
		if err := reg.Register(kind, schema); err != nil {
			return nil, err
		}
	}
	return reg, nil
}
