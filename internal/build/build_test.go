package build

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/obfusk8/obfusk8/internal/artifact"
	"github.com/obfusk8/obfusk8/internal/config"
	"github.com/obfusk8/obfusk8/internal/ir"
	"github.com/obfusk8/obfusk8/internal/natives"
	"github.com/obfusk8/obfusk8/internal/report"
	"github.com/obfusk8/obfusk8/pkg/types"
)

const helloFile = "../../testdata/hello.go"

func quiet() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Build.Seed = 42
	cfg.Passes.VerifySamples = 32
	dir := t.TempDir()
	cfg.Output.OutputFile = filepath.Join(dir, "hello.obk8")
	cfg.Output.ReportFile = filepath.Join(dir, "report.json")
	cfg.Output.MetricsFile = filepath.Join(dir, "metrics.prom")
	return cfg
}

func TestRunAndWrite(t *testing.T) {
	cfg := testConfig(t)
	res, err := Run(context.Background(), cfg, helloFile, Options{Logger: quiet()})
	require.NoError(t, err)
	require.NoError(t, res.Err)
	require.Len(t, res.Protected, 3)
	assert.Equal(t, 3, res.Report.Statistics.Protected)
	assert.Equal(t, res.Context.Used(), res.Report.Statistics.LabelsUsed)
	require.Len(t, res.Report.Divergence, 3)
	for _, d := range res.Report.Divergence {
		assert.Equal(t, "original", d.Against)
	}

	require.NoError(t, res.Write(cfg))

	b, err := artifact.Load(cfg.Output.OutputFile)
	require.NoError(t, err)
	assert.Equal(t, res.Bundle.BuildID, b.BuildID)
	r, err := b.Region("hello")
	require.NoError(t, err)
	var out bytes.Buffer
	_, err = ir.Invoke(r, natives.NewHost(&out).Natives())
	require.NoError(t, err)
	assert.Equal(t, "Hello from test_hello.cpp\n2 + 3 = 5\n", out.String())

	fib, err := b.Region("fib")
	require.NoError(t, err)
	v, err := ir.Invoke(fib, natives.NewHost(io.Discard).Natives(), ir.IntValue(ir.Uint32, 10))
	require.NoError(t, err)
	assert.Equal(t, uint64(55), v.Uint64())

	data, err := os.ReadFile(cfg.Output.ReportFile)
	require.NoError(t, err)
	status, ok := report.PassStatus(data, "fib", types.PassVM)
	assert.True(t, ok)
	assert.Equal(t, string(types.Applied), status)
	_, ok = report.PassStatus(data, "hello", types.PassVM)
	assert.False(t, ok, "light region runs no passes")

	metrics, err := os.ReadFile(cfg.Output.MetricsFile)
	require.NoError(t, err)
	assert.Contains(t, string(metrics), "obfusk8_regions_total")
}

func TestRunDefaultProfileFromConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Build.Profile = "medium"
	res, err := Run(context.Background(), cfg, helloFile, Options{Logger: quiet()})
	require.NoError(t, err)
	assert.Equal(t, "medium", res.Protected[0].Report.Profile)
	assert.True(t, res.Protected[0].Report.Applied(types.PassStrings))
}

func TestRunRegionFailureSkipsBundle(t *testing.T) {
	cfg := testConfig(t)
	cfg.Build.Capacity = 2
	res, err := Run(context.Background(), cfg, helloFile, Options{Logger: quiet()})
	require.NoError(t, err)
	require.Error(t, res.Err)
	assert.Greater(t, res.Report.Statistics.Failed, 0)

	require.NoError(t, res.Write(cfg))
	_, err = os.Stat(cfg.Output.OutputFile)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(cfg.Output.ReportFile)
	assert.NoError(t, err)
}

func TestRunInputErrors(t *testing.T) {
	cfg := testConfig(t)
	_, err := Run(context.Background(), cfg, "missing.go", Options{Logger: quiet()})
	assert.Error(t, err)

	empty := filepath.Join(t.TempDir(), "empty.go")
	require.NoError(t, os.WriteFile(empty, []byte("package demo\n\nfunc plain() {}\n"), 0o644))
	_, err = Run(context.Background(), cfg, empty, Options{Logger: quiet()})
	assert.ErrorContains(t, err, "no protected regions")
}

func TestArtifactPath(t *testing.T) {
	assert.Equal(t, "dir/hello.obk8", ArtifactPath("dir/hello.go"))
}
