package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ent0n29/interviewer/internal/config"
)

func TestRootCommandVersionFlag(t *testing.T) {
	originalVersion := Version
	defer func() { Version = originalVersion }()
	Version = "v0.1.0-test"

	cmd := newRootCommand(config.Defaults(), testLogger())
	var stdout bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stdout)
	cmd.SetArgs([]string{"--version"})

	require.NoError(t, cmd.Execute())
	assert.Equal(t, "v0.1.0-test", strings.TrimSpace(stdout.String()))
}

func TestRootCommandHelpListsSubcommands(t *testing.T) {
	cmd := newRootCommand(config.Defaults(), testLogger())
	var stdout bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stdout)
	cmd.SetArgs([]string{"--help"})

	require.NoError(t, cmd.Execute())
	for _, name := range []string{"serve", "rehearse"} {
		assert.Contains(t, stdout.String(), name)
	}
}

func TestRehearseRunsScriptedInterview(t *testing.T) {
	path := filepath.Join(t.TempDir(), "script.yaml")
	script := `job_description: Backend Engineer
resume: 5 yrs Go, built a cache layer
answers:
  - I used an LRU cache sharded by tenant across three zones
  - I don't know
`
	require.NoError(t, os.WriteFile(path, []byte(script), 0o600))

	cmd := newRootCommand(config.Defaults(), testLogger())
	var stdout bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stdout)
	cmd.SetArgs([]string{"rehearse", "--mock", "--script", path})
	require.NoError(t, cmd.ExecuteContext(context.Background()))

	out := stdout.String()
	assert.Contains(t, out, `Alex: Hi, I'm Alex`)
	assert.Contains(t, out, "ten times the traffic")
	assert.Contains(t, out, "[turn 2, difficulty Hard]")
	assert.Contains(t, out, "[turn 3, difficulty Easy]")
	assert.Contains(t, out, "Verdict: HIRE")
}

func TestLoadScriptRequiresAnswers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.yaml")
	require.NoError(t, os.WriteFile(path, []byte("job_description: SRE\n"), 0o600))
	_, err := loadScript(path)
	require.Error(t, err)

	_, err = loadScript(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func testLogger() *log.Logger {
	return log.NewWithOptions(&bytes.Buffer{}, log.Options{})
}
