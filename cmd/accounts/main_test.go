package main

import (
	"encoding/json"
	"testing"

	"github.com/goliatone/go-accounts/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDumpConfig(t *testing.T) {
	cfg := config.Defaults()
	cfg.Debug = true

	out := dumpConfig(&cfg)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &decoded), out)
	assert.Equal(t, true, decoded["debug"])
	assert.Contains(t, decoded, "server")
	assert.Contains(t, out, "\n\t\"server\"")
}
