// Package logging builds the daemon and relay loggers.
package logging

import (
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options selects where and how much a logger writes.
type Options struct {
	// Path of the JSON log file. Empty disables the file sink.
	Path  string
	Level zapcore.Level
	// Quiet drops the stderr console sink.
	Quiet  bool
	Fields []zap.Field
}

// New creates a zap logger that writes JSON to the log file and a console
// rendering to stderr.
func New(opts Options) (*zap.Logger, error) {
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var cores []zapcore.Core
	if opts.Path != "" {
		if err := os.MkdirAll(filepath.Dir(opts.Path), 0700); err != nil {
			return nil, err
		}
		file, err := os.OpenFile(opts.Path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
		if err != nil {
			return nil, err
		}
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(encoderCfg), zapcore.AddSync(file), opts.Level))
	}
	if !opts.Quiet {
		cores = append(cores, zapcore.NewCore(zapcore.NewConsoleEncoder(encoderCfg), zapcore.AddSync(os.Stderr), opts.Level))
	}

	return zap.New(zapcore.NewTee(cores...), zap.Fields(opts.Fields...)), nil
}

// ForSession creates the daemon logger of a session. Session name and PID
// are included as initial fields.
func ForSession(logPath, sessionName string, level zapcore.Level, quiet bool) (*zap.Logger, error) {
	return New(Options{
		Path:  logPath,
		Level: level,
		Quiet: quiet,
		Fields: []zap.Field{
			zap.String("session", sessionName),
			zap.Int("pid", os.Getpid()),
		},
	})
}
