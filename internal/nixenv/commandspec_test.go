package nixenv

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommandSpec_Clone_IsIndependent(t *testing.T) {
	orig := CommandSpec{
		Program:   "tool",
		Args:      []string{"a"},
		EnvAdd:    map[string]string{"K": "v"},
		EnvRemove: []string{"X"},
	}

	clone := orig.Clone()
	clone.Args[0] = "mutated"
	clone.EnvAdd["K"] = "mutated"
	clone.EnvRemove[0] = "mutated"

	assert.Equal(t, "a", orig.Args[0])
	assert.Equal(t, "v", orig.EnvAdd["K"])
	assert.Equal(t, "X", orig.EnvRemove[0])
}

func TestCommandSpec_Build_SetsProgramArgsDir(t *testing.T) {
	spec := CommandSpec{Program: "/bin/echo", Args: []string{"hi"}, Dir: "/tmp"}

	cmd := spec.Build(context.Background(), nil)

	require.Equal(t, []string{"/bin/echo", "hi"}, cmd.Args)
	assert.Equal(t, "/tmp", cmd.Dir)
}

func TestApplyEnvOverrides_RemovesThenAdds(t *testing.T) {
	base := []string{"KEEP=1", "DROP=2"}
	env := applyEnvOverrides(base, map[string]string{"NEW": "3"}, []string{"DROP"})

	assert.Contains(t, env, "KEEP=1")
	assert.Contains(t, env, "NEW=3")
	assert.NotContains(t, env, "DROP=2")
}

func TestRunCommandOptions_Defaults(t *testing.T) {
	opts := DefaultRunCommandOptions()
	assert.True(t, opts.Readonly)
	assert.True(t, opts.Buffered)

	unbuffered := opts.Unbuffered()
	assert.False(t, unbuffered.Buffered)
	assert.True(t, unbuffered.Readonly)

	readWrite := opts.ReadWrite()
	assert.False(t, readWrite.Readonly)
	assert.True(t, readWrite.Buffered)
}

func TestSelect_ReturnsErrNixUnavailableWhenNeitherBinaryExists(t *testing.T) {
	env, err := Select(context.Background(), SelectOptions{})
	if err == nil {
		t.Skip("a nix or nix-portable binary is available on this machine")
	}

	var unavailable *ErrNixUnavailable
	require.ErrorAs(t, err, &unavailable)
	assert.Nil(t, env)
}
