package openapi

import "maps"

// ErrorSchema is the component name of the {"error", "detalhes"} body.
const ErrorSchema = "Error"

// NewComponents returns components holding the shared error schema and
// the BadRequest, NotFound and Unavailable responses.
func NewComponents() *Components {
	return &Components{
		Schemas: map[string]*Schema{
			ErrorSchema: {
				Type:     "object",
				Required: []string{"error"},
				Properties: map[string]*Schema{
					"error":    {Type: "string"},
					"detalhes": {Type: "string"},
				},
			},
		},
		Responses: map[string]*Response{
			"BadRequest":  ResponseJSON("Invalid request", ErrorSchema),
			"NotFound":    ResponseJSON("Not found", ErrorSchema),
			"Unavailable": ResponseJSON("Model not loaded", ErrorSchema),
		},
	}
}

// AddSchemas merges schemas into the component schemas.
func (c *Components) AddSchemas(schemas map[string]*Schema) {
	maps.Copy(c.Schemas, schemas)
}
