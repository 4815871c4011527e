package logger

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]zerolog.Level{
		"debug":   zerolog.DebugLevel,
		"WARN":    zerolog.WarnLevel,
		"error":   zerolog.ErrorLevel,
		"":        zerolog.InfoLevel,
		"verbose": zerolog.InfoLevel,
	}
	for in, want := range tests {
		assert.Equal(t, want, parseLevel(in), "level %q", in)
	}
}

func TestConfigure(t *testing.T) {
	t.Cleanup(func() { Configure("info", "") })

	Configure("debug", "json")
	assert.Equal(t, zerolog.DebugLevel, Log.GetLevel())

	Configure("error", "console")
	assert.Equal(t, zerolog.ErrorLevel, GetLogger().GetLevel())
}
