package linker

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewDiagLogger builds the structured logger every pass-level
// diagnostic (RunICF in particular) writes through. verbose bumps the
// level to Debug; the encoder stays JSON either way so output stays
// machine-parseable when rvld runs inside a build pipeline.
func NewDiagLogger(verbose bool) *zap.Logger {
	cfg := zap.NewProductionConfig()
	if verbose {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}

	logger, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}
