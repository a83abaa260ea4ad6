package procmetrics

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func skipWithoutAccess(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" || runtime.GOOS == "plan9" {
		t.Skip("access checks unsupported on " + runtime.GOOS)
	}
}

func TestIsAccessible(t *testing.T) {
	skipWithoutAccess(t)

	dir := t.TempDir()
	file := filepath.Join(dir, "status")
	require.NoError(t, os.WriteFile(file, []byte("VmRSS:\t1 kB\n"), 0o644))

	tests := []struct {
		name string
		path string
		mode AccessMode
		want bool
	}{
		{"empty path", "", AccessExists, false},
		{"missing path", filepath.Join(dir, "nope"), AccessExists, false},
		{"file exists", file, AccessExists, true},
		{"file readable", file, AccessRead, true},
		{"file not executable", file, AccessExecute, false},
		{"directory listable", dir, AccessRead | AccessExecute, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsAccessible(tt.path, tt.mode))
		})
	}
}

func TestProbeCapabilities(t *testing.T) {
	skipWithoutAccess(t)

	dir := t.TempDir()
	status := filepath.Join(dir, "status")
	require.NoError(t, os.WriteFile(status, nil, 0o644))

	caps := ProbeCapabilities(ProbePaths{FDDir: dir, StatusFile: status})
	assert.True(t, caps.OpenFDs)
	assert.True(t, caps.ProcStatus)
	assert.Equal(t, dir, caps.Paths.FDDir)

	caps = ProbeCapabilities(ProbePaths{
		FDDir:      filepath.Join(dir, "fd"),
		StatusFile: filepath.Join(dir, "missing"),
	})
	assert.False(t, caps.OpenFDs)
	assert.False(t, caps.ProcStatus)
}

func TestProbeCapabilitiesEmptyPaths(t *testing.T) {
	caps := ProbeCapabilities(ProbePaths{})
	assert.False(t, caps.OpenFDs)
	assert.False(t, caps.ProcStatus)
}
