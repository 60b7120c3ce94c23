package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRepository_RunnerKindDefaultsToClaude(t *testing.T) {
	require.Equal(t, "claude", Repository{}.RunnerKind())
	require.Equal(t, "codex", Repository{AgentRunner: "codex"}.RunnerKind())
}
