package envconfig

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mvdemo/rapidus/logutil"
)

func TestConfig(t *testing.T) {
	t.Setenv("RAPIDUS_DEBUG", "")
	LoadConfig()
	require.False(t, Debug)
	require.Equal(t, slog.LevelInfo, LogLevel())

	t.Setenv("RAPIDUS_DEBUG", "false")
	LoadConfig()
	require.False(t, Debug)

	t.Setenv("RAPIDUS_DEBUG", "1")
	LoadConfig()
	require.True(t, Debug)
	require.False(t, Trace)
	require.Equal(t, slog.LevelDebug, LogLevel())

	t.Setenv("RAPIDUS_DEBUG", "2")
	LoadConfig()
	require.True(t, Trace)
	require.Equal(t, logutil.LevelTrace, LogLevel())

	t.Setenv("RAPIDUS_DEBUG", "yes please")
	LoadConfig()
	require.True(t, Debug)
}

func TestTranspose(t *testing.T) {
	cases := map[string]string{
		"":         "auto",
		"on":       "on",
		"\"OFF\"":  "off",
		" 'auto' ": "auto",
		"sideways": "auto",
	}

	for value, expect := range cases {
		t.Run(value, func(t *testing.T) {
			t.Setenv("RAPIDUS_TRANSPOSE", value)
			LoadConfig()
			assert.Equal(t, expect, Transpose)
		})
	}
}

func TestFlags(t *testing.T) {
	t.Setenv("RAPIDUS_STRICT", "1")
	t.Setenv("RAPIDUS_AUDIT", "true")
	t.Setenv("RAPIDUS_TARGET_DIR", "'/tmp/out'")
	LoadConfig()

	assert.True(t, Strict)
	assert.True(t, Audit)
	assert.Equal(t, "/tmp/out", TargetDir)

	t.Setenv("RAPIDUS_STRICT", "maybe")
	LoadConfig()
	assert.False(t, Strict)
}

func TestValues(t *testing.T) {
	t.Setenv("RAPIDUS_TARGET_DIR", "/models")
	LoadConfig()

	vals := Values()
	assert.Equal(t, "/models", vals["RAPIDUS_TARGET_DIR"])
	assert.Len(t, vals, len(AsMap()))
	for k, v := range AsMap() {
		assert.Equal(t, k, v.Name)
		assert.NotEmpty(t, v.Description, k)
	}
}
