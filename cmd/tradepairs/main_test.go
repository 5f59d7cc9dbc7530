package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const trades = `[
  {"time": "2025-01-02T09:30:00Z", "direction": "long", "price": 100, "volume": 10},
  {"time": "2025-01-02T10:00:00Z", "direction": "short", "price": 104, "volume": 6}
]`

func TestRun_LegsFromStdin(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, run("-", "", "json", false, strings.NewReader(trades), &out))
	assert.Contains(t, out.String(), `"open_price": "100"`)
	assert.Contains(t, out.String(), `"volume": "6"`)
	assert.NotContains(t, out.String(), "pnl")
}

func TestRun_ReportFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trades.json")
	require.NoError(t, os.WriteFile(path, []byte(trades), 0o644))

	var out bytes.Buffer
	require.NoError(t, run(path, "2", "yaml", true, nil, &out))
	s := out.String()
	assert.Contains(t, s, "pnl: \"48\"")
	assert.Contains(t, s, "open:")
	assert.Contains(t, s, "total_pnl: \"48\"")
}

func TestRun_Errors(t *testing.T) {
	var out bytes.Buffer
	assert.Error(t, run("-", "", "json", false, strings.NewReader(`[{"time": 1}]`), &out))
	assert.Error(t, run("-", "abc", "json", false, strings.NewReader(trades), &out))
	assert.Error(t, run("-", "", "xml", false, strings.NewReader(trades), &out))
	assert.Error(t, run(filepath.Join(t.TempDir(), "none.json"), "", "json", false, nil, &out))
}
