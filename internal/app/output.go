package app

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/HBNetNetworks/fortinet-wrapper/internal/config"
	"github.com/HBNetNetworks/fortinet-wrapper/internal/domain"
	"gopkg.in/yaml.v3"
)

// writeReport renders one report as a YAML document or a JSON object.
func writeReport(w io.Writer, format string, report domain.Report) error {
	switch format {
	case config.FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	case config.FormatYAML, "":
		if _, err := io.WriteString(w, "---\n"); err != nil {
			return err
		}
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(report); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unsupported output format %q", format)
	}
}
