package logging

import (
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds the process logger. When toFile is set, output goes to a log file
// under dir instead of stderr; the stdio RPC server uses this because stdout
// and stderr belong to the wire and the parent frontend.
func New(level string, dir string, toFile bool) (*zap.Logger, error) {
	lvl := zapcore.InfoLevel
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		lvl = zapcore.DebugLevel
	case "warn":
		lvl = zapcore.WarnLevel
	case "error":
		lvl = zapcore.ErrorLevel
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.DisableStacktrace = true

	if toFile {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
		cfg.OutputPaths = []string{filepath.Join(dir, "loaf.log")}
		cfg.ErrorOutputPaths = cfg.OutputPaths
	} else {
		cfg.OutputPaths = []string{"stderr"}
		cfg.ErrorOutputPaths = []string{"stderr"}
	}
	return cfg.Build()
}

// Nop returns a logger that discards everything. Tests and library callers
// that do not care about logs use this instead of threading nil around.
func Nop() *zap.Logger { return zap.NewNop() }
