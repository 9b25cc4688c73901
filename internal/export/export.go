// Package export serializes the product catalog for download.
package export

import (
	"encoding/json"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/fairyhunter13/storefront-console/internal/model"
)

// Exporter writes a product listing in one serialization format.
type Exporter interface {
	Export(products []model.Product, w io.Writer) error
	Extension() string
	ContentType() string
}

// NewExporter returns the exporter for format ("json" or "yaml").
func NewExporter(format string) (Exporter, error) {
	switch format {
	case "json", "":
		return jsonExporter{}, nil
	case "yaml", "yml":
		return yamlExporter{}, nil
	default:
		return nil, fmt.Errorf("unsupported export format %q", format)
	}
}

type jsonExporter struct{}

func (jsonExporter) Export(products []model.Product, w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(products); err != nil {
		return fmt.Errorf("encode products: %w", err)
	}
	return nil
}

func (jsonExporter) Extension() string   { return "json" }
func (jsonExporter) ContentType() string { return "application/json" }

type yamlExporter struct{}

func (yamlExporter) Export(products []model.Product, w io.Writer) error {
	enc := yaml.NewEncoder(w)
	defer enc.Close()
	if err := enc.Encode(products); err != nil {
		return fmt.Errorf("encode products: %w", err)
	}
	return nil
}

func (yamlExporter) Extension() string   { return "yaml" }
func (yamlExporter) ContentType() string { return "application/x-yaml" }
