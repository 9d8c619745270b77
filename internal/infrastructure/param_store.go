package infrastructure

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"starpsf/pkg/fitter"
)

// Solution is the serialized form of a field fit: the full parameter
// state plus the shape-channel weights it was fitted with.
type Solution struct {
	Params       []fitter.FlatParam `yaml:"params"`
	ShapeWeights []float64          `yaml:"shape_weights,omitempty"`
}

// SaveSolution writes a parameter set to a YAML solution file.
func SaveSolution(path string, set *fitter.ParameterSet, shapeWeights []float64) error {
	sol := Solution{
		Params:       set.Flatten(),
		ShapeWeights: shapeWeights,
	}
	data, err := yaml.Marshal(&sol)
	if err != nil {
		return fmt.Errorf("encoding solution: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing solution file: %w", err)
	}
	return nil
}

// LoadSolution restores a parameter set from a YAML solution file.
func LoadSolution(path string) (*fitter.ParameterSet, []float64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("reading solution file: %w", err)
	}
	var sol Solution
	if err := yaml.Unmarshal(data, &sol); err != nil {
		return nil, nil, fmt.Errorf("parsing solution file: %w", err)
	}
	set, err := fitter.Restore(sol.Params)
	if err != nil {
		return nil, nil, err
	}
	return set, sol.ShapeWeights, nil
}
