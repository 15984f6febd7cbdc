package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qri-io/tilereader"
	"github.com/qri-io/tilereader/granule"
	"github.com/qri-io/tilereader/internal/testgranule"
)

func writeGranule(t *testing.T) string {
	t.Helper()
	uri, err := testgranule.Write(t.TempDir(), "grid.zarr", map[string]interface{}{"title": "cli grid"},
		testgranule.Var{
			Name: "sst", Dims: []string{"lat", "lon"}, Shape: []int{3, 4}, Data: testgranule.Seq(12, 280, 1),
			Attrs: map[string]interface{}{"units": "kelvin"},
		},
		testgranule.Var{Name: "lat", Dims: []string{"lat"}, Shape: []int{3}, Data: testgranule.Seq(3, 0, 1)},
		testgranule.Var{Name: "lon", Dims: []string{"lon"}, Shape: []int{4}, Data: testgranule.Seq(4, 0, 1)},
	)
	require.NoError(t, err)
	return uri
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	out := &bytes.Buffer{}
	rootCmd.SetOut(out)
	rootCmd.SetErr(&bytes.Buffer{})
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestReadCommand(t *testing.T) {
	uri := writeGranule(t)
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "readers.hcl")
	require.NoError(t, os.WriteFile(cfgPath, []byte(`reader "grid" {
  variable  = "sst"
  latitude  = "lat"
  longitude = "lon"
}`), 0644))
	outPath := filepath.Join(dir, "tiles.bin")

	_, err := execute(t, "read", "--config", cfgPath, "--granule", uri,
		"--section-spec", "lat:0:2,lon:1:3", "--out", outPath, "--summarize", "--log-level", "error")
	require.NoError(t, err)

	f, err := os.Open(outPath)
	require.NoError(t, err)
	defer f.Close()
	tile, err := tilereader.ReadDelimited(f)
	require.NoError(t, err)

	g, ok := tile.Data.Payload.(*tilereader.GridTile)
	require.True(t, ok)
	assert.Equal(t, []int{2, 2}, g.VariableData.Shape)
	require.NotNil(t, tile.Summary.Stats)
	assert.Equal(t, int64(4), tile.Summary.Stats.Count)
	assert.Equal(t, 281.0, tile.Summary.Stats.Min)
	assert.Equal(t, 286.0, tile.Summary.Stats.Max)

	_, err = execute(t, "read", "--config", cfgPath, "--reader", "swath", "--granule", uri, "--section-spec", "lat:0:1")
	assert.Error(t, err)
}

func TestInspect(t *testing.T) {
	h, err := granule.Open(writeGranule(t))
	require.NoError(t, err)
	defer h.Close()

	buf := &bytes.Buffer{}
	require.NoError(t, inspect(buf, h, []string{"title", "missing"}))
	out := buf.String()
	assert.Contains(t, out, "sst")
	assert.Contains(t, out, "(lat, lon)")
	assert.Contains(t, out, "[3 4]")
	assert.Contains(t, out, "units=kelvin")
	assert.Contains(t, out, "title: cli grid")
	assert.NotContains(t, out, "missing")
}

func TestSelectConfig(t *testing.T) {
	grid := &tilereader.Config{Kind: "grid"}
	swath := &tilereader.Config{Kind: "swath"}

	c, err := selectConfig([]*tilereader.Config{grid}, "")
	require.NoError(t, err)
	assert.Same(t, grid, c)

	_, err = selectConfig([]*tilereader.Config{grid, swath}, "")
	assert.Error(t, err)

	c, err = selectConfig([]*tilereader.Config{grid, swath}, "swath")
	require.NoError(t, err)
	assert.Same(t, swath, c)

	_, err = selectConfig([]*tilereader.Config{grid}, "timeseries")
	assert.Error(t, err)
}

func TestLogLevelFromEnv(t *testing.T) {
	assert.Equal(t, "TILEREADER_LOG_LEVEL", envLogLevel)
	assert.Contains(t, rootCmd.PersistentFlags().Lookup("log-level").Usage, "$TILEREADER_LOG_LEVEL")

	uri := writeGranule(t)
	logLevel = ""
	t.Setenv(envLogLevel, "loud")
	_, err := execute(t, "inspect", "--granule", uri)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown log level "loud"`)

	t.Setenv(envLogLevel, "error")
	out, err := execute(t, "inspect", "--granule", uri)
	require.NoError(t, err)
	assert.Contains(t, out, "sst")
}
