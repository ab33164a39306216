package openapi

const (
	schemaRefPrefix   = "#/components/schemas/"
	responseRefPrefix = "#/components/responses/"

	mimeJSON      = "application/json"
	mimeMultipart = "multipart/form-data"
	mimeBinary    = "application/octet-stream"
)

type Info struct {
	Title       string `json:"title"`
	Version     string `json:"version"`
	Description string `json:"description,omitempty"`
}

// PathItem holds the operations of one path. Only the methods the API
// mounts are modeled.
type PathItem struct {
	Get    *Operation `json:"get,omitempty"`
	Post   *Operation `json:"post,omitempty"`
	Delete *Operation `json:"delete,omitempty"`
}

type Operation struct {
	Summary     string            `json:"summary,omitempty"`
	Description string            `json:"description,omitempty"`
	Tags        []string          `json:"tags,omitempty"`
	Parameters  []*Parameter      `json:"parameters,omitempty"`
	RequestBody *RequestBody      `json:"requestBody,omitempty"`
	Responses   map[int]*Response `json:"responses"`
}

type Parameter struct {
	Name        string  `json:"name"`
	In          string  `json:"in"`
	Required    bool    `json:"required,omitempty"`
	Description string  `json:"description,omitempty"`
	Schema      *Schema `json:"schema"`
}

type RequestBody struct {
	Description string  `json:"description,omitempty"`
	Required    bool    `json:"required,omitempty"`
	Content     Content `json:"content"`
}

type Response struct {
	Ref         string  `json:"$ref,omitempty"`
	Description string  `json:"description,omitempty"`
	Content     Content `json:"content,omitempty"`
}

// Content maps a media type to its schema.
type Content map[string]*MediaType

type MediaType struct {
	Schema *Schema `json:"schema,omitempty"`
}

// Schema is the subset of JSON Schema the API documents use.
type Schema struct {
	Ref                  string             `json:"$ref,omitempty"`
	Type                 string             `json:"type,omitempty"`
	Format               string             `json:"format,omitempty"`
	Description          string             `json:"description,omitempty"`
	Properties           map[string]*Schema `json:"properties,omitempty"`
	AdditionalProperties *Schema            `json:"additionalProperties,omitempty"`
	Required             []string           `json:"required,omitempty"`
	Items                *Schema            `json:"items,omitempty"`
	Enum                 []any              `json:"enum,omitempty"`
	Example              any                `json:"example,omitempty"`
	Minimum              *float64           `json:"minimum,omitempty"`
	Maximum              *float64           `json:"maximum,omitempty"`
}

type Components struct {
	Schemas   map[string]*Schema   `json:"schemas,omitempty"`
	Responses map[string]*Response `json:"responses,omitempty"`
}

func binary() *Schema { return &Schema{Type: "string", Format: "binary"} }

// JSON is a Content with schema under application/json.
func JSON(schema *Schema) Content {
	return Content{mimeJSON: {Schema: schema}}
}

func SchemaRef(name string) *Schema {
	return &Schema{Ref: schemaRefPrefix + name}
}

func ResponseRef(name string) *Response {
	return &Response{Ref: responseRefPrefix + name}
}

// ArrayOf is an array schema of the named component.
func ArrayOf(name string) *Schema {
	return &Schema{Type: "array", Items: SchemaRef(name)}
}

func RequestBodyJSON(schemaName string, required bool) *RequestBody {
	return &RequestBody{Required: required, Content: JSON(SchemaRef(schemaName))}
}

// RequestBodyFile is a required multipart body with one file in field.
func RequestBodyFile(field, description string) *RequestBody {
	return &RequestBody{
		Required:    true,
		Description: description,
		Content: Content{mimeMultipart: {Schema: &Schema{
			Type:       "object",
			Required:   []string{field},
			Properties: map[string]*Schema{field: binary()},
		}}},
	}
}

func ResponseJSON(description, schemaName string) *Response {
	return &Response{Description: description, Content: JSON(SchemaRef(schemaName))}
}

func ResponseBinary(description string) *Response {
	return &Response{Description: description, Content: Content{mimeBinary: {Schema: binary()}}}
}

// PathParam is a required uuid path parameter.
func PathParam(name, description string) *Parameter {
	return &Parameter{
		Name: name, In: "path", Required: true, Description: description,
		Schema: &Schema{Type: "string", Format: "uuid"},
	}
}

func QueryParam(name, typ, description string, required bool) *Parameter {
	return &Parameter{
		Name: name, In: "query", Required: required, Description: description,
		Schema: &Schema{Type: typ},
	}
}
