// Package hyperlog holds the globals shared by the packages of the module: the
// logger and the list of Prometheus collectors.
//
// The log level is read from the LLVL environment variable and defaults to
// debug. Accepted values are the ones of zerolog (trace, debug, info, warn,
// error, fatal, panic, disabled).
package hyperlog

import (
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

// EnvLogLevel is the name of the environment variable to change the logging
// level.
const EnvLogLevel = "LLVL"

const defaultLevel = zerolog.DebugLevel

var logout = zerolog.ConsoleWriter{
	Out:        os.Stdout,
	TimeFormat: time.RFC3339,
}

// Logger is a globally available logger instance.
var Logger = zerolog.New(logout).
	With().Timestamp().Logger().
	With().Caller().Logger().
	Level(levelFromEnv())

// PromCollectors exposes the Prometheus collectors created by the packages of
// the module. Packages append their collectors in an init function and a
// process decides whether to register them.
var PromCollectors []prometheus.Collector

func levelFromEnv() zerolog.Level {
	raw := os.Getenv(EnvLogLevel)
	if raw == "" {
		return defaultLevel
	}

	lvl, err := zerolog.ParseLevel(raw)
	if err != nil {
		return defaultLevel
	}

	return lvl
}
