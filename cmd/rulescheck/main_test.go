package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultsPassValidation(t *testing.T) {
	var out, errOut bytes.Buffer
	require.Equal(t, 0, run([]string{"-defaults"}, &out, &errOut))

	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, out.Bytes(), 0o600))

	out.Reset()
	require.Equal(t, 0, run([]string{"-file", path}, &out, &errOut), errOut.String())
	require.Contains(t, out.String(), "rulescheck: OK")
}

func TestViolationsAreListed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	doc := []byte("version: 1\npricing:\n  precision: -1\ntax:\n  default_rate: 2\n")
	require.NoError(t, os.WriteFile(path, doc, 0o600))

	var out, errOut bytes.Buffer
	require.Equal(t, 1, run([]string{"-file", path}, &out, &errOut))
	require.Contains(t, errOut.String(), "VIOLATION:")
	require.Empty(t, out.String())
}

func TestUnreadableDocument(t *testing.T) {
	var out, errOut bytes.Buffer
	require.Equal(t, 2, run([]string{"-file", filepath.Join(t.TempDir(), "missing.yaml")}, &out, &errOut))

	path := filepath.Join(t.TempDir(), "broken.yaml")
	require.NoError(t, os.WriteFile(path, []byte("pricing: [unterminated"), 0o600))
	require.Equal(t, 2, run([]string{"-file", path}, &out, &errOut))
}
