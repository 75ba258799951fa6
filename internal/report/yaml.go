package report

import (
	"io"

	"gopkg.in/yaml.v3"
)

// YAMLGenerator generates YAML reports
type YAMLGenerator struct{}

// Generate generates a YAML report
func (g *YAMLGenerator) Generate(report *Report, w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(report); err != nil {
		return err
	}
	return enc.Close()
}

// Extension returns the file extension
func (g *YAMLGenerator) Extension() string {
	return "yaml"
}
