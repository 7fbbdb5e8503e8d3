// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package store

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/research-orchestrator/pkg/types"
)

// Format selects the export encoding.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

// ExportDocument is what Export writes: the status view followed by the
// full run.
type ExportDocument struct {
	Status types.RunStatus      `json:"status" yaml:"status"`
	Run    *types.ResearchState `json:"run" yaml:"run"`
}

// Export writes the run with the given id to w in the requested format.
func Export(ctx context.Context, st Store, id string, format Format, w io.Writer) error {
	run, err := st.Get(ctx, id)
	if err != nil {
		return err
	}
	doc := ExportDocument{
		Status: types.NewRunStatus(run, time.Now()),
		Run:    run,
	}

	switch format {
	case FormatYAML, "":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(&doc); err != nil {
			return fmt.Errorf("marshaling YAML: %w", err)
		}
		return enc.Close()
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(&doc); err != nil {
			return fmt.Errorf("marshaling JSON: %w", err)
		}
		return nil
	}
	return fmt.Errorf("unknown export format %q: use yaml or json", format)
}
