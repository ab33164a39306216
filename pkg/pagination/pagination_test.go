package pagination_test

import (
	"encoding/json"
	"net/url"
	"testing"

	"github.com/aviario/postura/pkg/pagination"
)

var cfg = pagination.Config{DefaultPageSize: 20, MaxPageSize: 100}

func TestConfigFinalize(t *testing.T) {
	env := &pagination.ConfigEnv{
		DefaultPageSize: "TEST_PAGINATION_DEFAULT",
		MaxPageSize:     "TEST_PAGINATION_MAX",
	}

	t.Run("defaults", func(t *testing.T) {
		var c pagination.Config
		if err := c.Finalize(nil); err != nil {
			t.Fatalf("Finalize() error = %v", err)
		}
		if c.DefaultPageSize != 20 || c.MaxPageSize != 100 {
			t.Errorf("config = %+v", c)
		}
	})

	t.Run("env overrides", func(t *testing.T) {
		t.Setenv("TEST_PAGINATION_DEFAULT", "5")
		t.Setenv("TEST_PAGINATION_MAX", "10")

		var c pagination.Config
		if err := c.Finalize(env); err != nil {
			t.Fatalf("Finalize() error = %v", err)
		}
		if c.DefaultPageSize != 5 || c.MaxPageSize != 10 {
			t.Errorf("config = %+v", c)
		}
	})

	t.Run("default exceeds max", func(t *testing.T) {
		t.Setenv("TEST_PAGINATION_DEFAULT", "50")
		t.Setenv("TEST_PAGINATION_MAX", "10")

		var c pagination.Config
		if err := c.Finalize(env); err == nil {
			t.Error("expected validation error")
		}
	})
}

func TestPageRequestFromQuery(t *testing.T) {
	tests := []struct {
		name         string
		query        string
		wantPage     int
		wantSize     int
		wantOffset   int
		wantSearch   string
		wantSortDesc bool
	}{
		{"empty", "", 1, 20, 0, "", false},
		{"explicit", "page=3&page_size=10", 3, 10, 20, "", false},
		{"clamped", "page=-1&page_size=1000", 1, 100, 0, "", false},
		{"search and sort", "search=gal&sort=-CreatedAt", 1, 20, 0, "gal", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			values, _ := url.ParseQuery(tt.query)
			req, err := pagination.PageRequestFromQuery(values, cfg)
			if err != nil {
				t.Fatalf("PageRequestFromQuery() error = %v", err)
			}

			if req.Page != tt.wantPage || req.PageSize != tt.wantSize {
				t.Errorf("page = %d size = %d, want %d %d", req.Page, req.PageSize, tt.wantPage, tt.wantSize)
			}
			if got := req.Offset(); got != tt.wantOffset {
				t.Errorf("Offset() = %d, want %d", got, tt.wantOffset)
			}
			if tt.wantSearch == "" && req.Search != nil {
				t.Errorf("search = %q, want nil", *req.Search)
			}
			if tt.wantSearch != "" && (req.Search == nil || *req.Search != tt.wantSearch) {
				t.Errorf("search = %v, want %q", req.Search, tt.wantSearch)
			}
			if tt.wantSortDesc && (len(req.Sort) != 1 || !req.Sort[0].Descending) {
				t.Errorf("sort = %+v", req.Sort)
			}
		})
	}
}

func TestPageRequestFromQueryInvalid(t *testing.T) {
	for _, q := range []string{"page=dois", "page_size=10x", "page=1&page_size=%20"} {
		t.Run(q, func(t *testing.T) {
			values, _ := url.ParseQuery(q)
			if _, err := pagination.PageRequestFromQuery(values, cfg); err == nil {
				t.Errorf("PageRequestFromQuery(%q) expected error", q)
			}
		})
	}
}

func TestSortFieldsJSON(t *testing.T) {
	tests := []struct {
		name string
		body string
		want int
	}{
		{"string form", `{"sort": "Label,-CreatedAt"}`, 2},
		{"array form", `{"sort": [{"Field": "Label", "Descending": true}]}`, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var req pagination.PageRequest
			if err := json.Unmarshal([]byte(tt.body), &req); err != nil {
				t.Fatalf("Unmarshal() error = %v", err)
			}
			if len(req.Sort) != tt.want {
				t.Errorf("sort = %+v, want %d fields", req.Sort, tt.want)
			}
		})
	}

	var req pagination.PageRequest
	if err := json.Unmarshal([]byte(`{"sort": 7}`), &req); err == nil {
		t.Error("numeric sort: expected error")
	}
}

func TestNewPageResult(t *testing.T) {
	tests := []struct {
		name      string
		total     int
		page      int
		size      int
		wantPages int
		wantNext  bool
	}{
		{"empty", 0, 1, 20, 1, false},
		{"exact", 40, 1, 20, 2, true},
		{"remainder", 41, 3, 20, 3, false},
		{"zero page size", 5, 1, 0, 1, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := pagination.NewPageResult[string](nil, tt.total, tt.page, tt.size)
			if r.TotalPages != tt.wantPages || r.HasNext != tt.wantNext {
				t.Errorf("pages = %d next = %v, want %d %v", r.TotalPages, r.HasNext, tt.wantPages, tt.wantNext)
			}
			if r.Data == nil {
				t.Error("Data is nil")
			}
		})
	}
}
