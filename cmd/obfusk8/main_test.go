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

const helloFile = "../../testdata/hello.go"

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestProtectRunInspect(t *testing.T) {
	dir := t.TempDir()
	bundle := filepath.Join(dir, "hello.obk8")
	rep := filepath.Join(dir, "report.json")

	out, err := execute(t, "protect", helloFile, "-o", bundle, "--report", rep, "--seed", "7", "-q")
	require.NoError(t, err)
	assert.Empty(t, out)

	out, err = execute(t, "run", bundle, "hello")
	require.NoError(t, err)
	assert.Equal(t, "Hello from test_hello.cpp\n2 + 3 = 5\n", out)

	out, err = execute(t, "run", bundle, "fib", "12")
	require.NoError(t, err)
	assert.Equal(t, "144\n", out)

	out, err = execute(t, "run", bundle, "greet", "ann")
	require.NoError(t, err)
	assert.Equal(t, "hello, ann\n", out)

	_, err = execute(t, "run", bundle)
	assert.ErrorContains(t, err, "name one of")
	_, err = execute(t, "run", bundle, "fib", "-1")
	assert.Error(t, err)

	out, err = execute(t, "inspect", bundle)
	require.NoError(t, err)
	for _, name := range []string{"hello", "fib", "greet"} {
		assert.Contains(t, out, name)
	}

	out, err = execute(t, "inspect", bundle, "--region", "fib", "--disasm")
	require.NoError(t, err)
	assert.NotEmpty(t, strings.TrimSpace(out))

	out, err = execute(t, "inspect", rep, "--query", `regions.#(region=="fib").profile`)
	require.NoError(t, err)
	assert.Equal(t, "heavy\n", out)
}

func TestProtectSummary(t *testing.T) {
	dir := t.TempDir()
	out, err := execute(t, "protect", helloFile, "-o", filepath.Join(dir, "b.obk8"), "--profile", "medium")
	require.NoError(t, err)
	assert.Contains(t, out, "hello")
	assert.Contains(t, out, "b.obk8")

	out, err = execute(t, "protect", helloFile, "-o", filepath.Join(dir, "c.obk8"), "--format", "json")
	require.NoError(t, err)
	assert.Contains(t, out, `"regions"`)
}

func TestProtectBadInput(t *testing.T) {
	_, err := execute(t, "protect", filepath.Join(t.TempDir(), "missing.go"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	_, err = execute(t, "protect", helloFile, "--profile", "extreme")
	assert.Error(t, err)
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, version)
}
