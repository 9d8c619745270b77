package main

import (
	"flag"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"starpsf/internal/app"
	"starpsf/internal/domain"
	"starpsf/internal/infrastructure"
	"starpsf/internal/interp"
	"starpsf/pkg/moments"
	"starpsf/pkg/profile"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to config file")
	catalogPath := flag.String("catalog", "", "Star catalog, overrides the config")
	mode := flag.String("mode", "stars", "Fit mode: stars or field")
	flag.Parse()

	logger := initLogger("info")
	defer logger.Sync()

	config, err := infrastructure.ReadConfig(*configPath)
	if err != nil {
		logger.Fatal("Failed to read config", zap.Error(err))
	}

	logger = initLogger(config.LogLevel, config.LogFile)
	defer logger.Sync()

	if *catalogPath != "" {
		config.CatalogFile = *catalogPath
	}
	if config.CatalogFile == "" {
		logger.Fatal("No star catalog configured")
	}

	reader := infrastructure.NewCatalogReader()
	stars, err := reader.ReadStars(config.CatalogFile)
	if err != nil {
		logger.Fatal("Failed to read star catalog", zap.Error(err))
	}
	logger.Info("Loaded star catalog",
		zap.String("file", config.CatalogFile),
		zap.Int("n_stars", len(stars)))

	switch *mode {
	case "stars":
		stars = runStarFit(config, stars, logger)
	case "field":
		stars = runFieldFit(config, stars, logger)
	default:
		logger.Fatal("Unknown fit mode", zap.String("mode", *mode))
	}

	writer := infrastructure.NewResultWriter()
	if err := writer.WriteStars(config.OutputFile, stars); err != nil {
		logger.Fatal("Failed to write results", zap.Error(err))
	}
	logger.Info("Fit completed successfully", zap.String("output", config.OutputFile))
}

func buildRenderer(config *domain.Config, logger *zap.Logger) domain.Renderer {
	switch config.Profile {
	case "gaussian":
		return profile.NewGaussian(false)
	case "moffat":
		moffat, err := profile.NewMoffat(config.MoffatBeta, false)
		if err != nil {
			logger.Fatal("Invalid Moffat configuration", zap.Error(err))
		}
		return moffat
	}
	logger.Fatal("Unknown profile", zap.String("profile", config.Profile))
	return nil
}

func runStarFit(config *domain.Config, stars []*domain.Star, logger *zap.Logger) []*domain.Star {
	renderer := buildRenderer(config, logger)
	fitter := app.NewStarFitter(renderer, logger)
	trainer := app.NewTrainer(fitter, interp.NewLinear(), config, logger)

	logger.Info("Starting per-star fit",
		zap.String("profile", config.Profile),
		zap.Bool("fast_fit", config.FastFit))

	fitted, err := trainer.Train(stars)
	if err != nil {
		logger.Fatal("Per-star fit failed", zap.Error(err))
	}
	return fitted
}

func runFieldFit(config *domain.Config, stars []*domain.Star, logger *zap.Logger) []*domain.Star {
	field := profile.NewGaussianField()
	measurer := moments.NewMeasurer()
	errprop := moments.NewErrorPropagator(measurer, profile.NewGaussian(false), logger)

	fitter, err := app.NewFieldFitter(field, errprop, config, logger)
	if err != nil {
		logger.Fatal("Invalid field fit configuration", zap.Error(err))
	}

	logger.Info("Starting field fit",
		zap.String("backend", config.Backend),
		zap.Int("n_stars", len(stars)))

	fitted, err := fitter.Fit(stars)
	if err != nil {
		logger.Fatal("Field fit failed", zap.Error(err))
	}

	if err := infrastructure.SaveSolution(config.SolutionFile, fitter.Params(), config.ShapeWeights); err != nil {
		logger.Fatal("Failed to write solution", zap.Error(err))
	}
	logger.Info("Saved field solution", zap.String("file", config.SolutionFile))
	return fitted
}

// initLogger initializes the logger with the specified level and log file name.
func initLogger(level string, logfileName ...string) *zap.Logger {
	config := zap.NewProductionConfig()

	switch level {
	case "debug":
		config.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "warn":
		config.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		config.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		config.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}

	outputPath := []string{"stderr"}
	for _, item := range logfileName {
		if item != "" {
			outputPath = append(outputPath, item)
		}
	}

	config.OutputPaths = outputPath
	config.ErrorOutputPaths = outputPath
	config.EncoderConfig.TimeKey = "t"
	config.EncoderConfig.EncodeTime = zapcore.RFC3339TimeEncoder
	config.DisableCaller = false

	logger, _ := config.Build()
	return logger
}
