// Copyright 2017, Kerby Shedden and the Muscato contributors.

// Package fixtures drives the §8 "Concrete scenarios" from a TOML
// fixture file, the same way the teacher's tests/test.go drives its
// integration suite from tests.toml.
package fixtures

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// Scenario is one table from scenarios.toml.
type Scenario struct {
	Name                   string    `toml:"name"`
	P                      []float64 `toml:"p"`
	Lineages               []string  `toml:"lineages"`
	ExpectedBestLineage    string    `toml:"expected_best_lineage"`
	ExpectedBestConfidence []float64 `toml:"expected_best_confidence"`
}

type scenarioFile struct {
	Scenario []Scenario `toml:"scenario"`
}

// Load reads and decodes a scenarios.toml fixture file.
func Load(path string) ([]Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("fixtures: reading %s: %w", path, err)
	}
	var v scenarioFile
	if _, err := toml.Decode(string(data), &v); err != nil {
		return nil, fmt.Errorf("fixtures: decoding %s: %w", path, err)
	}
	return v.Scenario, nil
}
