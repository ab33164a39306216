package api

import (
	"net/http"

	"github.com/aviario/postura/internal/config"
	"github.com/aviario/postura/pkg/openapi"
)

func ptr[T any](v T) *T { return &v }

var probability = &openapi.Schema{Type: "number", Minimum: ptr(0.0), Maximum: ptr(1.0)}

var schemas = map[string]*openapi.Schema{
	"Prediction": {
		Type:     "object",
		Required: []string{"prob", "label"},
		Properties: map[string]*openapi.Schema{
			"prob":  {Type: "object", AdditionalProperties: probability},
			"label": {Type: "string", Enum: []any{"posturando", "nao_posturando", "indeterminado"}},
		},
	},
	"AnalyzeResponse": {
		Type: "object",
		Properties: map[string]*openapi.Schema{
			"status":    {Type: "string", Example: "ok"},
			"resultado": openapi.SchemaRef("Prediction"),
		},
	},
	"ModelInfo": {
		Type: "object",
		Properties: map[string]*openapi.Schema{
			"state":      {Type: "string", Enum: []any{"uninitialized", "loading", "ready", "failed"}},
			"error":      {Type: "string"},
			"classes":    {Type: "array", Items: &openapi.Schema{Type: "string"}},
			"image_size": {Type: "integer"},
			"threshold":  probability,
			"trained_at": {Type: "string", Format: "date-time"},
			"training":   {Type: "object"},
		},
	},
	"PredictionRecord": {
		Type: "object",
		Properties: map[string]*openapi.Schema{
			"id":            {Type: "string", Format: "uuid"},
			"filename":      {Type: "string"},
			"content_type":  {Type: "string"},
			"size_bytes":    {Type: "integer"},
			"label":         {Type: "string"},
			"confidence":    probability,
			"probabilities": {Type: "object", AdditionalProperties: probability},
			"storage_key":   {Type: "string"},
			"created_at":    {Type: "string", Format: "date-time"},
		},
	},
	"PredictionPage": {
		Type: "object",
		Properties: map[string]*openapi.Schema{
			"data":        {Type: "array", Items: openapi.SchemaRef("PredictionRecord")},
			"total":       {Type: "integer"},
			"page":        {Type: "integer"},
			"page_size":   {Type: "integer"},
			"total_pages": {Type: "integer"},
			"has_next":    {Type: "boolean"},
		},
	},
	"PredictionSearch": {
		Type: "object",
		Properties: map[string]*openapi.Schema{
			"page":           {Type: "integer"},
			"page_size":      {Type: "integer"},
			"search":         {Type: "string"},
			"sort":           {Type: "string", Example: "-CreatedAt"},
			"label":          {Type: "string"},
			"filename":       {Type: "string"},
			"content_type":   {Type: "string"},
			"min_confidence": probability,
			"since":          {Type: "string", Format: "date-time"},
			"until":          {Type: "string", Format: "date-time"},
		},
	},
	"Blob": {
		Type: "object",
		Properties: map[string]*openapi.Schema{
			"key":            {Type: "string"},
			"content_type":   {Type: "string"},
			"content_length": {Type: "integer"},
			"last_modified":  {Type: "string", Format: "date-time"},
		},
	},
}

// newSpec describes the routes that NewModules registers.
func newSpec(cfg *config.Config, predictions, storage bool) *openapi.Spec {
	spec := openapi.NewSpec("Postura API", cfg.Version)
	spec.SetDescription("Classifies hen images as posturando or nao_posturando.")
	spec.Components.AddSchemas(schemas)

	base := cfg.API.BasePath
	unavailable := openapi.ResponseRef("Unavailable")
	badRequest := openapi.ResponseRef("BadRequest")
	notFound := openapi.ResponseRef("NotFound")

	spec.Add(http.MethodPost, AnalyzePrefix, &openapi.Operation{
		Summary:     "Classify one image",
		Tags:        []string{"inference"},
		RequestBody: openapi.RequestBodyFile(cfg.Inference.Field, "Image to classify"),
		Responses: map[int]*openapi.Response{
			200: openapi.ResponseJSON("Classification result", "AnalyzeResponse"),
			400: badRequest,
			413: openapi.ResponseJSON("Upload too large", openapi.ErrorSchema),
			500: openapi.ResponseJSON("Image could not be classified", openapi.ErrorSchema),
			503: unavailable,
		},
	})

	spec.Add(http.MethodGet, base+"/model", &openapi.Operation{
		Summary:   "Model state and metadata",
		Tags:      []string{"inference"},
		Responses: map[int]*openapi.Response{200: openapi.ResponseJSON("Model info", "ModelInfo")},
	})

	if predictions {
		listParams := []*openapi.Parameter{
			openapi.QueryParam("page", "integer", "Page number", false),
			openapi.QueryParam("page_size", "integer", "Results per page", false),
			openapi.QueryParam("search", "string", "Matches filename or label", false),
			openapi.QueryParam("sort", "string", "Comma-separated fields, - for descending", false),
			openapi.QueryParam("label", "string", "Exact label", false),
			openapi.QueryParam("min_confidence", "number", "Lower confidence bound", false),
			openapi.QueryParam("since", "string", "RFC 3339, inclusive", false),
			openapi.QueryParam("until", "string", "RFC 3339, exclusive", false),
		}
		id := []*openapi.Parameter{openapi.PathParam("id", "Prediction id")}

		spec.Add(http.MethodGet, base+"/predictions", &openapi.Operation{
			Summary:    "List recorded predictions",
			Tags:       []string{"predictions"},
			Parameters: listParams,
			Responses: map[int]*openapi.Response{
				200: openapi.ResponseJSON("Page of predictions", "PredictionPage"),
				400: badRequest,
			},
		})
		spec.Add(http.MethodPost, base+"/predictions/search", &openapi.Operation{
			Summary:     "Search recorded predictions",
			Tags:        []string{"predictions"},
			RequestBody: openapi.RequestBodyJSON("PredictionSearch", true),
			Responses: map[int]*openapi.Response{
				200: openapi.ResponseJSON("Page of predictions", "PredictionPage"),
				400: badRequest,
			},
		})
		spec.Add(http.MethodGet, base+"/predictions/{id}", &openapi.Operation{
			Summary:    "Find a prediction",
			Tags:       []string{"predictions"},
			Parameters: id,
			Responses: map[int]*openapi.Response{
				200: openapi.ResponseJSON("Prediction", "PredictionRecord"),
				400: badRequest,
				404: notFound,
			},
		})
		spec.Add(http.MethodDelete, base+"/predictions/{id}", &openapi.Operation{
			Summary:    "Delete a prediction and its image",
			Tags:       []string{"predictions"},
			Parameters: id,
			Responses: map[int]*openapi.Response{
				204: {Description: "Deleted"},
				404: notFound,
			},
		})
		spec.Add(http.MethodGet, base+"/predictions/{id}/image", &openapi.Operation{
			Summary:    "Download the classified image",
			Tags:       []string{"predictions"},
			Parameters: id,
			Responses: map[int]*openapi.Response{
				200: openapi.ResponseBinary("Stored image"),
				404: notFound,
			},
		})
	}

	if storage {
		key := []*openapi.Parameter{{
			Name: "key", In: "path", Required: true,
			Description: "Blob key, may contain slashes",
			Schema:      &openapi.Schema{Type: "string"},
		}}

		spec.Add(http.MethodGet, base+"/storage", &openapi.Operation{
			Summary: "List blobs",
			Tags:    []string{"storage"},
			Parameters: []*openapi.Parameter{
				openapi.QueryParam("prefix", "string", "Key prefix", false),
				openapi.QueryParam("max_results", "integer", "Maximum blobs returned", false),
			},
			Responses: map[int]*openapi.Response{
				200: {Description: "Blobs", Content: openapi.JSON(openapi.ArrayOf("Blob"))},
				400: badRequest,
			},
		})
		spec.Add(http.MethodGet, base+"/storage/{key}", &openapi.Operation{
			Summary:    "Blob metadata",
			Tags:       []string{"storage"},
			Parameters: key,
			Responses: map[int]*openapi.Response{
				200: openapi.ResponseJSON("Blob", "Blob"),
				404: notFound,
			},
		})
		spec.Add(http.MethodGet, base+"/storage/download/{key}", &openapi.Operation{
			Summary:    "Download a blob",
			Tags:       []string{"storage"},
			Parameters: key,
			Responses: map[int]*openapi.Response{
				200: openapi.ResponseBinary("Blob content"),
				404: notFound,
			},
		})
	}

	return spec
}
