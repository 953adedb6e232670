// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefault(t *testing.T) {
	cfg := NewDefault()

	require.NotNil(t, cfg)
	assert.Equal(t, DefaultBatchPort, cfg.BatchServicePort)
	assert.Equal(t, DefaultMomPort, cfg.MomServicePort)
	assert.Equal(t, DefaultAdminPort, cfg.ManagerServicePort)
	assert.Equal(t, DefaultDataPort, cfg.DataServicePort)
	assert.Equal(t, "resvport", cfg.AuthMethod)
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pbs.conf")
	contents := `# sample config
PBS_SERVER = head.cluster.example
PBS_START_SERVER = true
PBS_START_MOM = false
PBS_BATCH_SERVICE_PORT = 16001
PBS_AUTH_METHOD = munge
PBS_SUPPORTED_AUTH_METHODS = munge,resvport
PBS_COMM_THREADS = 4

CUSTOM_SITE_KEY = whatever
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	cfg, err := LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, "head.cluster.example", cfg.ServerName)
	assert.True(t, cfg.StartServer)
	assert.False(t, cfg.StartMom)
	assert.Equal(t, 16001, cfg.BatchServicePort)
	assert.Equal(t, "munge", cfg.AuthMethod)
	assert.Equal(t, []string{"munge", "resvport"}, cfg.SupportedAuthMethods)
	assert.Equal(t, 4, cfg.CommThreads)
	assert.Equal(t, "whatever", cfg.Extra["CUSTOM_SITE_KEY"])
}

func TestLoadFileMissing(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "does-not-exist.conf"))
	assert.Error(t, err)
}

func TestApplyEnvOverridesFile(t *testing.T) {
	cfg := NewDefault()
	cfg.ServerName = "from-file"

	t.Setenv("PBS_SERVER", "from-env")
	cfg.ApplyEnv()

	assert.Equal(t, "from-env", cfg.ServerName)
}

func TestResolveServicePortFallback(t *testing.T) {
	// An unregistered service name always falls back to the supplied default.
	port := ResolveServicePort("pbs_batch_definitely_unregistered", DefaultBatchPort)
	assert.Equal(t, DefaultBatchPort, port)
}

func TestStoreReload(t *testing.T) {
	s := NewStore(NewDefault())
	assert.Equal(t, DefaultBatchPort, s.Get().BatchServicePort)

	next := NewDefault()
	next.BatchServicePort = 20000
	s.Reload(next)

	assert.Equal(t, 20000, s.Get().BatchServicePort)
}
