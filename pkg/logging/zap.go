// SPDX-FileCopyrightText: SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

// Package logging builds the process-wide structured logger.
package logging

import (
	"fmt"
	"os"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Level is a supported log verbosity.
type Level string

// Format is a supported log encoding.
type Format string

const (
	// DebugLevel enables V(0) and V(1) (debug) log statements.
	DebugLevel Level = "debug"
	// InfoLevel enables V(0) (info) log statements only.
	InfoLevel Level = "info"
	// ErrorLevel disables V(0) and V(1), only error logs are enabled.
	ErrorLevel Level = "error"

	// FormatJSON renders log lines as JSON objects.
	FormatJSON Format = "json"
	// FormatText renders log lines as human-readable console output.
	FormatText Format = "text"
)

// NewZapLogger builds a logr.Logger backed by zap at the given level and format.
// An empty level defaults to InfoLevel, matching the component's documented
// startup default.
func NewZapLogger(level Level, format Format, opts ...zap.Option) (logr.Logger, error) {
	if level == "" {
		level = InfoLevel
	}

	var zapLevel zapcore.Level
	switch level {
	case DebugLevel:
		zapLevel = zapcore.DebugLevel
	case InfoLevel:
		zapLevel = zapcore.InfoLevel
	case ErrorLevel:
		zapLevel = zapcore.ErrorLevel
	default:
		return logr.Logger{}, fmt.Errorf("invalid log level %q", level)
	}

	var encoderCfg zapcore.EncoderConfig
	var encoder zapcore.Encoder
	switch format {
	case FormatJSON, "":
		encoderCfg = zap.NewProductionEncoderConfig()
		encoderCfg.TimeKey = "timestamp"
		encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
		encoder = zapcore.NewJSONEncoder(encoderCfg)
	case FormatText:
		encoderCfg = zap.NewDevelopmentEncoderConfig()
		encoder = zapcore.NewConsoleEncoder(encoderCfg)
	default:
		return logr.Logger{}, fmt.Errorf("invalid log format %q", format)
	}

	core := zapcore.NewCore(encoder, zapcore.Lock(zapcore.AddSync(os.Stderr)), zapLevel)
	zapLog := zap.New(core, append([]zap.Option{zap.AddCaller()}, opts...)...)

	return zapr.NewLogger(zapLog), nil
}

// MustNewZapLogger is like NewZapLogger but panics on error; used at startup
// where an invalid level/format is a configuration bug, not a runtime error.
func MustNewZapLogger(level Level, format Format, opts ...zap.Option) logr.Logger {
	log, err := NewZapLogger(level, format, opts...)
	if err != nil {
		panic(err)
	}
	return log
}
