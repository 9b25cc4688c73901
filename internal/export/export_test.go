package export

import (
	"bytes"
	"strings"
	"testing"

	"github.com/fairyhunter13/storefront-console/internal/model"
)

func TestNewExporterFormats(t *testing.T) {
	for _, tc := range []struct {
		format  string
		ext     string
		wantErr bool
	}{
		{"json", "json", false},
		{"", "json", false},
		{"yaml", "yaml", false},
		{"yml", "yaml", false},
		{"csv", "", true},
	} {
		e, err := NewExporter(tc.format)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("format %q: expected error", tc.format)
			}
			continue
		}
		if err != nil {
			t.Fatalf("format %q: %v", tc.format, err)
		}
		if e.Extension() != tc.ext {
			t.Fatalf("format %q: extension = %q", tc.format, e.Extension())
		}
	}
}

func TestJSONExport(t *testing.T) {
	e, err := NewExporter("json")
	if err != nil {
		t.Fatalf("new exporter: %v", err)
	}
	var buf bytes.Buffer
	products := []model.Product{{ID: "p-1", Name: "Zesty Sauce", Price: 9.5, InStock: true}}
	if err := e.Export(products, &buf); err != nil {
		t.Fatalf("export: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, `"name": "Zesty Sauce"`) {
		t.Fatalf("missing indented field: %s", out)
	}
}

func TestYAMLExport(t *testing.T) {
	e, err := NewExporter("yaml")
	if err != nil {
		t.Fatalf("new exporter: %v", err)
	}
	var buf bytes.Buffer
	products := []model.Product{{ID: "p-1", Name: "Zesty Sauce", Price: 9.5}}
	if err := e.Export(products, &buf); err != nil {
		t.Fatalf("export: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "name: Zesty Sauce") {
		t.Fatalf("unexpected yaml: %s", out)
	}
	if e.ContentType() != "application/x-yaml" {
		t.Fatalf("content type = %q", e.ContentType())
	}
}
