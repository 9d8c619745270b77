package domain

// Config is the application configuration, read from YAML with
// command-line overrides applied by the caller.
type Config struct {
	Backend       string    `yaml:"backend"`
	Profile       string    `yaml:"profile"`
	MoffatBeta    float64   `yaml:"moffat_beta"`
	MaxIterations int       `yaml:"max_iterations"`
	NFitStars     int       `yaml:"n_fit_stars"`
	Seed          int64     `yaml:"seed"`
	Workers       int       `yaml:"workers"`
	ErrorEstimate float64   `yaml:"error_estimate"`
	ShapeWeights  []float64 `yaml:"shape_weights"`
	MaxShapes     []float64 `yaml:"max_shapes"`
	UseGradient   bool      `yaml:"use_gradient"`
	GuessStart    bool      `yaml:"guess_start"`
	FastFit       bool      `yaml:"fast_fit"`
	LogLevel      string    `yaml:"log_level"`
	LogFile       string    `yaml:"log_file"`
	CatalogFile   string    `yaml:"catalog_file"`
	OutputFile    string    `yaml:"output_file"`
	SolutionFile  string    `yaml:"solution_file"`
}
