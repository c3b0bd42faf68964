package policy

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const blockPolicy = `
package admission

default decision = "allow"

decision = {"decision": "deny", "reason": "blocked address"} {
	input.source_address == "203.0.113.9"
}

decision = "deny" {
	input.user_agent == "bad-bot"
}
`

func TestDefaultPolicyAllows(t *testing.T) {
	ctx := context.Background()
	engine, err := LoadEngine(ctx, "")
	require.NoError(t, err)

	d, err := engine.Admit(ctx, Input{SessionID: "s", SourceAddress: "10.0.0.1"})
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestCustomPolicy(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "admission.rego")
	require.NoError(t, os.WriteFile(path, []byte(blockPolicy), 0o600))

	engine, err := LoadEngine(ctx, path)
	require.NoError(t, err)

	d, err := engine.Admit(ctx, Input{SourceAddress: "203.0.113.9"})
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, "blocked address", d.Reason)

	d, err = engine.Admit(ctx, Input{SourceAddress: "10.0.0.1", UserAgent: "bad-bot"})
	require.NoError(t, err)
	assert.False(t, d.Allowed)

	d, err = engine.Admit(ctx, Input{SourceAddress: "10.0.0.1", UserAgent: "Mozilla"})
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestInvalidPolicy(t *testing.T) {
	_, err := NewEngine(context.Background(), "package admission\n decision = ")
	assert.Error(t, err)
}
