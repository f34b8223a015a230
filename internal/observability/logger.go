// Package observability builds the process logger.
package observability

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LogConfig mirrors the log.* configuration keys.
type LogConfig struct {
	Level       string
	Format      string
	Outputs     []string
	Development bool
	Rotation    RotationConfig
}

type RotationConfig struct {
	Enable     bool
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// LogConfigFrom reads log.* keys from v.
func LogConfigFrom(v *viper.Viper) LogConfig {
	return LogConfig{
		Level:       v.GetString("log.level"),
		Format:      v.GetString("log.format"),
		Outputs:     v.GetStringSlice("log.outputs"),
		Development: v.GetBool("log.development"),
		Rotation: RotationConfig{
			Enable:     v.GetBool("log.rotation.enable"),
			MaxSizeMB:  v.GetInt("log.rotation.max_size_mb"),
			MaxBackups: v.GetInt("log.rotation.max_backups"),
			MaxAgeDays: v.GetInt("log.rotation.max_age_days"),
			Compress:   v.GetBool("log.rotation.compress"),
		},
	}
}

// SetupLogger builds a zap.Logger from c and redirects the stdlib log
// package to it. The caller should defer logger.Sync().
func SetupLogger(c LogConfig) (*zap.Logger, error) {
	level := zap.NewAtomicLevelAt(zap.InfoLevel)
	if c.Level != "" {
		if err := level.UnmarshalText([]byte(strings.ToLower(c.Level))); err != nil {
			return nil, err
		}
	}

	var encCfg zapcore.EncoderConfig
	if c.Development {
		encCfg = zap.NewDevelopmentEncoderConfig()
		encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encCfg = zap.NewProductionEncoderConfig()
		encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	var encoder zapcore.Encoder
	if strings.ToLower(c.Format) == "json" {
		encoder = zapcore.NewJSONEncoder(encCfg)
	} else {
		encoder = zapcore.NewConsoleEncoder(encCfg)
	}

	outputs := c.Outputs
	if len(outputs) == 0 {
		outputs = []string{"stderr"}
	}
	cores := make([]zapcore.Core, 0, len(outputs))
	for _, out := range outputs {
		ws, err := sinkFor(out, c.Rotation)
		if err != nil {
			return nil, err
		}
		cores = append(cores, zapcore.NewCore(encoder, ws, level))
	}

	opts := []zap.Option{zap.AddCaller(), zap.AddStacktrace(zap.ErrorLevel)}
	if c.Development {
		opts = append(opts, zap.Development())
	}
	logger := zap.New(zapcore.NewTee(cores...), opts...)
	_, _ = zap.RedirectStdLogAt(logger, zap.InfoLevel)
	return logger, nil
}

func sinkFor(out string, r RotationConfig) (zapcore.WriteSyncer, error) {
	switch strings.ToLower(strings.TrimSpace(out)) {
	case "stdout":
		return zapcore.Lock(os.Stdout), nil
	case "stderr":
		return zapcore.Lock(os.Stderr), nil
	}
	if dir := filepath.Dir(out); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	if r.Enable {
		return zapcore.AddSync(&lumberjack.Logger{
			Filename:   out,
			MaxSize:    max(r.MaxSizeMB, 1),
			MaxBackups: max(r.MaxBackups, 1),
			MaxAge:     max(r.MaxAgeDays, 1),
			Compress:   r.Compress,
		}), nil
	}
	f, err := os.OpenFile(out, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	return zapcore.AddSync(f), nil
}
