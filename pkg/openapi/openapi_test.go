package openapi_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/aviario/postura/pkg/openapi"
)

func TestSpecHandler(t *testing.T) {
	spec := openapi.NewSpec("Postura API", "0.1.0")
	spec.Add(http.MethodPost, "/analisar", &openapi.Operation{
		Summary:     "Classify",
		RequestBody: openapi.RequestBodyFile("imagem", "Image"),
		Responses: map[int]*openapi.Response{
			200: openapi.ResponseJSON("ok", "Prediction"),
			503: openapi.ResponseRef("Unavailable"),
		},
	})
	spec.Add(http.MethodGet, "/analisar", &openapi.Operation{Summary: "unused"})

	handler, err := spec.Handler()
	if err != nil {
		t.Fatalf("Handler() error = %v", err)
	}

	rec := httptest.NewRecorder()
	handler(rec, httptest.NewRequest("GET", "/openapi.json", nil))

	var doc map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &doc); err != nil {
		t.Fatalf("decode: %v", err)
	}

	paths := doc["paths"].(map[string]any)
	item := paths["/analisar"].(map[string]any)
	if _, ok := item["post"]; !ok {
		t.Error("post operation missing")
	}
	if _, ok := item["get"]; !ok {
		t.Error("get operation missing")
	}

	post := item["post"].(map[string]any)
	responses := post["responses"].(map[string]any)
	if ref := responses["503"].(map[string]any)["$ref"]; ref != "#/components/responses/Unavailable" {
		t.Errorf("503 $ref = %v", ref)
	}

	body := post["requestBody"].(map[string]any)["content"].(map[string]any)
	if _, ok := body["multipart/form-data"]; !ok {
		t.Errorf("request body content = %v", body)
	}

	components := doc["components"].(map[string]any)["schemas"].(map[string]any)
	if _, ok := components[openapi.ErrorSchema]; !ok {
		t.Error("error schema missing")
	}
}
