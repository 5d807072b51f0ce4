package hyperlog

import (
	"os"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestLevelFromEnv(t *testing.T) {
	defer os.Setenv(EnvLogLevel, os.Getenv(EnvLogLevel))

	os.Setenv(EnvLogLevel, "")
	require.Equal(t, zerolog.DebugLevel, levelFromEnv())

	os.Setenv(EnvLogLevel, "warn")
	require.Equal(t, zerolog.WarnLevel, levelFromEnv())

	os.Setenv(EnvLogLevel, "not-a-level")
	require.Equal(t, zerolog.DebugLevel, levelFromEnv())
}
