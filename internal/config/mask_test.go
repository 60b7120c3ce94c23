package config

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMaskToken_KeepsLastFourVisible(t *testing.T) {
	require.Equal(t, "••••••••wxyz", MaskToken("tok-abcdwxyz"))
}

func TestMaskToken_ShorterThanVisibleWindowIsFullyMasked(t *testing.T) {
	require.Equal(t, "•••", MaskToken("abc"))
	require.Equal(t, "••••", MaskToken("abcd"))
}

func TestMaskToken_EmptyStringStaysEmpty(t *testing.T) {
	require.Equal(t, "", MaskToken(""))
}

func TestMasked_MasksEveryRepositoryToken(t *testing.T) {
	cfg := sampleConfig()
	cfg.Repositories = append(cfg.Repositories, Repository{ID: "repo-b", TokenMaterial: "short"})

	out := Masked(cfg)

	require.Len(t, out, 2)
	require.False(t, strings.Contains(out[0].TokenMaterial, "abcdwxyz"))
	require.Equal(t, "repo-a", out[0].ID)
	require.Equal(t, "•hort", out[1].TokenMaterial)
}

func TestMasked_EmptyRepositoriesYieldsEmptySlice(t *testing.T) {
	out := Masked(&Config{})
	require.Empty(t, out)
}
