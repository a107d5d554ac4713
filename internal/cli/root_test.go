package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand(t *testing.T) {
	root := GetRootCmd()
	assert.Equal(t, "seekerd", root.Use)

	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	assert.Contains(t, names, "serve")
	assert.Contains(t, names, "config")
}

func TestConfigInit(t *testing.T) {
	orig := cfgFile
	defer func() { cfgFile = orig }()
	cfgFile = filepath.Join(t.TempDir(), "seeker.yaml")

	require.NoError(t, runConfigInit(configInitCmd, nil))

	data, err := os.ReadFile(cfgFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), "server:")

	assert.Error(t, runConfigInit(configInitCmd, nil), "refuses to overwrite")
}
