package cmd

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/birdsed/internal/buildinfo"
	"github.com/tphakala/birdsed/internal/conf"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	ctx := conf.NewContext(buildinfo.NewContext("1.2.3", "2026-10-01"))
	root := RootCommand(ctx)
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	t.Parallel()

	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "birdsed 1.2.3 (built 2026-10-01)\n", out)
}

func TestCatalogCommand(t *testing.T) {
	t.Parallel()

	t.Run("list", func(t *testing.T) {
		t.Parallel()
		out, err := execute(t, "catalog")
		require.NoError(t, err)
		assert.Contains(t, out, "aldfly")
		assert.Contains(t, out, "Empidonax alnorum")
	})

	t.Run("resolve", func(t *testing.T) {
		t.Parallel()
		out, err := execute(t, "catalog", "Empidonax alnorum", "Empidonax alnorum_Alder Flycatcher")
		require.NoError(t, err)
		assert.Contains(t, out, "Empidonax alnorum_Alder Flycatcher")
		assert.Contains(t, out, "aldfly")
	})

	t.Run("unresolved", func(t *testing.T) {
		t.Parallel()
		out, err := execute(t, "catalog", "aldfly", "Not a bird")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "1 of 2 names")
		assert.Contains(t, out, "Not a bird")
	})
}

func TestMissingConfigFileFails(t *testing.T) {
	t.Parallel()

	_, err := execute(t, "--config", filepath.Join(t.TempDir(), "missing.yaml"), "discover")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config")
}

func TestSubcommandsRegistered(t *testing.T) {
	t.Parallel()

	root := RootCommand(conf.NewContext(nil))
	names := make([]string, 0, len(root.Commands()))
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	for _, want := range []string{"train", "softlabel", "discover", "detect", "prepare", "catalog", "version"} {
		assert.Contains(t, names, want)
	}
}
