package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autosupper/autosupper/internal/config"
)

func TestRootCommands(t *testing.T) {
	cmd := newRootCmd()
	names := map[string]bool{}
	for _, c := range cmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"run", "init", "missions", "export", "import"} {
		assert.True(t, names[want], want)
	}
	assert.Equal(t, config.DefaultPath, cmd.PersistentFlags().Lookup("config").DefValue)
}

func TestInitCommandWritesTemplate(t *testing.T) {
	dst := filepath.Join(t.TempDir(), "config")

	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"init", dst, "--template", filepath.Join("..", "..", config.TemplatePath)})
	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "configuration written")

	_, err := os.Stat(filepath.Join(dst, "autosupper.yaml"))
	require.NoError(t, err)

	cmd = newRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"init", dst, "--template", filepath.Join("..", "..", config.TemplatePath)})
	assert.Error(t, cmd.Execute())
}
