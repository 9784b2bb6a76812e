package commands

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/quill/internal/bridge"
	"github.com/dshills/quill/internal/script"
)

const policyHook = `
--- @handler event="tool:before" identifier="shell" priority=10
function deny(event)
    return { cancel = true }
end

--- @handler event="tool:before" identifier="echo"
function limit(event)
    event.payload.limit = 5
    return { payload = event.payload }
end
`

// setup isolates config and data directories and returns a hook directory.
func setup(t *testing.T) string {
	t.Helper()
	tmp := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(tmp, "config"))
	t.Setenv("XDG_DATA_HOME", filepath.Join(tmp, "data"))
	hooks := filepath.Join(tmp, "hooks")
	require.NoError(t, os.MkdirAll(hooks, 0o755))
	return hooks
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewCommand(BuildInfo{Version: "1.2.3", Commit: "abc123", Date: "2026-01-01"})
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(append(args, "--log-level", "error"))
	err := cmd.Execute()
	return out.String(), err
}

func TestVersion(t *testing.T) {
	setup(t)

	out, err := execute(t, "version", "--short")
	require.NoError(t, err)
	assert.Equal(t, "1.2.3\n", out)

	out, err = execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "quill 1.2.3 (commit abc123, built 2026-01-01)")
	assert.Contains(t, out, "hook API "+script.APIVersion)
}

func TestInvalidConfigFails(t *testing.T) {
	setup(t)
	_, err := execute(t, "version", "--log-format", "xml")
	require.Error(t, err)
}

func TestHooksListJSON(t *testing.T) {
	hooks := setup(t)
	require.NoError(t, os.WriteFile(filepath.Join(hooks, "policy.lua"), []byte(policyHook), 0o644))

	out, err := execute(t, "hooks", "list", "--hooks-dir", hooks, "--output", "json")
	require.NoError(t, err)

	var got struct {
		Handlers []handlerRow `json:"handlers"`
		Count    int          `json:"count"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	require.Equal(t, 2, got.Count)

	byName := map[string]handlerRow{}
	for _, h := range got.Handlers {
		byName[h.Name] = h
	}
	require.Contains(t, byName, "policy.deny")
	assert.Equal(t, 10, byName["policy.deny"].Priority)
	assert.Equal(t, "lua", byName["policy.deny"].Runtime)
	assert.True(t, byName["policy.limit"].Enabled)
	assert.Equal(t, []string{}, byName["policy.limit"].Dependencies)
}

func TestHooksListTable(t *testing.T) {
	hooks := setup(t)

	out, err := execute(t, "hooks", "list", "--hooks-dir", hooks)
	require.NoError(t, err)
	assert.Contains(t, out, "No hook handlers found.")

	require.NoError(t, os.WriteFile(filepath.Join(hooks, "policy.lua"), []byte(policyHook), 0o644))
	out, err = execute(t, "hooks", "list", "--hooks-dir", hooks)
	require.NoError(t, err)
	assert.Contains(t, out, "policy.deny")
	assert.Contains(t, out, "policy.limit")
}

func TestHooksListRejectsUnknownOutput(t *testing.T) {
	hooks := setup(t)
	_, err := execute(t, "hooks", "list", "--hooks-dir", hooks, "--output", "yaml")
	require.Error(t, err)
}

func TestHooksCheck(t *testing.T) {
	hooks := setup(t)
	require.NoError(t, os.WriteFile(filepath.Join(hooks, "policy.lua"), []byte(policyHook), 0o644))

	out, err := execute(t, "hooks", "check", "--hooks-dir", hooks)
	require.NoError(t, err)
	assert.Contains(t, out, "policy.lua (2 handlers)")

	require.NoError(t, os.WriteFile(filepath.Join(hooks, "broken.lua"), []byte("function broken(\n"), 0o644))
	out, err = execute(t, "hooks", "check", "--hooks-dir", hooks)
	require.ErrorIs(t, err, ErrHooksInvalid)
	assert.Contains(t, out, "FAIL")
	assert.Contains(t, out, "broken.lua")
}

func TestEmit(t *testing.T) {
	hooks := setup(t)
	require.NoError(t, os.WriteFile(filepath.Join(hooks, "policy.lua"), []byte(policyHook), 0o644))

	out, err := execute(t, "emit", "tool:before", "shell", "--hooks-dir", hooks, "--payload", `{"cmd":"rm"}`)
	require.NoError(t, err)
	var doc bridge.Document
	require.NoError(t, json.Unmarshal([]byte(out), &doc))
	assert.True(t, doc.Cancelled)
	assert.Equal(t, "policy.deny", doc.CancelledBy)

	out, err = execute(t, "emit", "tool:before", "echo", "--hooks-dir", hooks)
	require.NoError(t, err)
	doc = bridge.Document{}
	require.NoError(t, json.Unmarshal([]byte(out), &doc))
	assert.False(t, doc.Cancelled)
	assert.JSONEq(t, `{"limit":5}`, string(doc.Payload))
	assert.Contains(t, doc.Handlers, "policy.limit")
}

func TestEmitPlan(t *testing.T) {
	hooks := setup(t)
	require.NoError(t, os.WriteFile(filepath.Join(hooks, "policy.lua"), []byte(policyHook), 0o644))

	out, err := execute(t, "emit", "tool:before", "shell", "--hooks-dir", hooks, "--plan")
	require.NoError(t, err)

	var got struct {
		Type string   `json:"type"`
		Plan []string `json:"plan"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, "tool:before", got.Type)
	assert.Equal(t, []string{"policy.deny", "builtin.audit"}, got.Plan)
}

func TestEmitInvalidPayload(t *testing.T) {
	hooks := setup(t)
	_, err := execute(t, "emit", "tool:before", "shell", "--hooks-dir", hooks, "--payload", "{nope")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "payload")
}
