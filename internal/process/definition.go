package process

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/google/uuid"
)

// Definition is the configuration form of a process, loaded from the
// processes file at startup.
type Definition struct {
	Name               string   `json:"name"`
	BusinessID         string   `json:"business_id"`
	Forecast           string   `json:"forecast"`
	Engine             string   `json:"engine"`
	RequiredParameters []string `json:"required_parameters,omitempty"`

	// Shell engine settings, used when Engine is "shell".
	Command   []string `json:"command,omitempty"`
	OutputDir string   `json:"output_dir,omitempty"`
}

// EngineBuilder constructs the engine implementation named by a
// definition. The builder is supplied by the wiring layer so that this
// package stays independent of concrete engine packages.
type EngineBuilder func(def Definition) (Engine, error)

// LoadDefinitions decodes a JSON array of process definitions.
func LoadDefinitions(r io.Reader) ([]Definition, error) {
	var defs []Definition
	if err := json.NewDecoder(r).Decode(&defs); err != nil {
		return nil, fmt.Errorf("decode process definitions: %w", err)
	}
	return defs, nil
}

// BuildRegistry validates the definitions, builds their engines, and
// registers the resulting processes.
func BuildRegistry(defs []Definition, build EngineBuilder) (*Registry, error) {
	reg := NewRegistry()

	for _, def := range defs {
		if def.Name == "" {
			return nil, fmt.Errorf("process definition without a name")
		}

		bid, err := uuid.Parse(def.BusinessID)
		if err != nil {
			return nil, fmt.Errorf("process %q: invalid business id: %w", def.Name, err)
		}

		forecast, err := ParseForecast(def.Forecast)
		if err != nil {
			return nil, fmt.Errorf("process %q: %w", def.Name, err)
		}

		eng, err := build(def)
		if err != nil {
			return nil, fmt.Errorf("process %q: %w", def.Name, err)
		}

		p := &Process{
			Name:               def.Name,
			BusinessID:         bid,
			Forecast:           forecast,
			RequiredParameters: def.RequiredParameters,
			Engine:             eng,
		}
		if err := reg.Register(p); err != nil {
			return nil, err
		}
	}

	return reg, nil
}
