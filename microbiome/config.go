package microbiome

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"quantmix/lqmm"
)

// AnalysisConfig controls the model-selection and repeated-fit procedure.
// Zero-valued fields are replaced by defaults when the analysis runs.
type AnalysisConfig struct {

	// Candidates contains the optional covariates enumerated during
	// model selection.
	Candidates []string `yaml:"candidates"`

	// Quantiles is the grid at which the selected model is fit
	// repeatedly.
	Quantiles []float64 `yaml:"quantiles"`

	// SelectionQuantile is the single level at which candidate subsets
	// are compared.
	SelectionQuantile float64 `yaml:"selection_quantile"`

	// Replicates is the number of repeated fits per specification.
	Replicates int `yaml:"replicates"`

	// CovStruct names the random-effects covariance structure, either
	// "diagonal" or "unstructured".
	CovStruct string `yaml:"cov_struct"`

	// QuadPoints is the number of quadrature points per random-effect
	// dimension.
	QuadPoints int `yaml:"quad_points"`

	// MaxIter caps the optimizer iterations of every fit.
	MaxIter int `yaml:"max_iter"`

	// LoglikTol is the optimizer's function convergence tolerance.
	LoglikTol float64 `yaml:"loglik_tol"`

	// StartJitter is the standard deviation of the start-point
	// perturbation applied to each replicate fit.
	StartJitter float64 `yaml:"start_jitter"`

	// Seed drives the start-point perturbations, making the whole
	// repeated-fit procedure reproducible.
	Seed uint64 `yaml:"seed"`
}

// DefaultAnalysisConfig returns the default analysis configuration: all
// three optional covariates, the nine-decile grid, selection at the median,
// and ten replicates.
func DefaultAnalysisConfig() *AnalysisConfig {
	return &AnalysisConfig{
		Candidates:        []string{"age", "sex", "smoking"},
		Quantiles:         []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9},
		SelectionQuantile: 0.5,
		Replicates:        10,
		CovStruct:         "diagonal",
		QuadPoints:        7,
		MaxIter:           500,
		LoglikTol:         1e-6,
		StartJitter:       0.1,
		Seed:              20230215,
	}
}

// LoadAnalysisConfig reads an analysis configuration from a YAML file,
// filling unset fields with their defaults.
func LoadAnalysisConfig(path string) (*AnalysisConfig, error) {

	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	config := &AnalysisConfig{}
	if err := yaml.Unmarshal(buf, config); err != nil {
		return nil, fmt.Errorf("%s: %v", path, err)
	}
	config.fillDefaults()

	if _, err := config.covStruct(); err != nil {
		return nil, fmt.Errorf("%s: %v", path, err)
	}

	return config, nil
}

func (c *AnalysisConfig) fillDefaults() {

	def := DefaultAnalysisConfig()

	if c.Candidates == nil {
		c.Candidates = def.Candidates
	}
	if len(c.Quantiles) == 0 {
		c.Quantiles = def.Quantiles
	}
	if c.SelectionQuantile == 0 {
		c.SelectionQuantile = def.SelectionQuantile
	}
	if c.Replicates == 0 {
		c.Replicates = def.Replicates
	}
	if c.CovStruct == "" {
		c.CovStruct = def.CovStruct
	}
	if c.QuadPoints == 0 {
		c.QuadPoints = def.QuadPoints
	}
	if c.MaxIter == 0 {
		c.MaxIter = def.MaxIter
	}
	if c.LoglikTol == 0 {
		c.LoglikTol = def.LoglikTol
	}
	if c.StartJitter == 0 {
		c.StartJitter = def.StartJitter
	}
	if c.Seed == 0 {
		c.Seed = def.Seed
	}
}

func (c *AnalysisConfig) covStruct() (lqmm.CovStruct, error) {
	switch c.CovStruct {
	case "diagonal":
		return lqmm.Diagonal, nil
	case "unstructured":
		return lqmm.Unstructured, nil
	}
	return 0, fmt.Errorf("unknown covariance structure %q", c.CovStruct)
}
