package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func sampleConfig() *Config {
	return &Config{
		Repositories: []Repository{
			{
				ID:                      "repo-a",
				Name:                    "Repo A",
				RepositoryPath:          "/srv/repo-a",
				BaseBranch:              "main",
				IssueTrackerWorkspaceID: "ws-1",
				TokenMaterial:           "tok-abcdwxyz",
				IsActive:                true,
				AllowedTools:            ToolPolicy{Preset: ToolsSafe},
				LabelPrompts: map[string]PromptRule{
					"builder": {Labels: []string{"feature"}, PromptPath: "~/prompts/builder.md"},
				},
			},
		},
		Dispatch: DefaultDispatchConfig(),
	}
}

func writeRawFile(path, contents string) error {
	return os.WriteFile(path, []byte(contents), 0o600)
}

func readDir(dir string) ([]os.DirEntry, error) {
	return os.ReadDir(dir)
}

func TestStore_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	store := NewStore(path, 5)

	cfg := sampleConfig()
	require.NoError(t, Validate(cfg))
	require.NoError(t, store.Save(cfg, 1))

	loaded, err := store.Load()
	require.NoError(t, err)
	require.Equal(t, cfg.Repositories[0].ID, loaded.Repositories[0].ID)
	require.Equal(t, ToolsSafe, loaded.Repositories[0].AllowedTools.Preset)
	require.Equal(t, "builder", loaded.Repositories[0].LabelPrompts["builder"].Name)
}

func TestStore_PreservesUnknownTopLevelKeys(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	require.NoError(t, writeRawFile(path, `{"repositories":[],"dispatch":{},"someFutureField":{"a":1}}`))

	store := NewStore(path, 5)
	loaded, err := store.Load()
	require.NoError(t, err)
	require.Contains(t, loaded.Extra, "someFutureField")

	require.NoError(t, store.Save(loaded, 1))
	reloaded, err := store.Load()
	require.NoError(t, err)
	require.Contains(t, reloaded.Extra, "someFutureField")
}

func TestStore_BacksUpPreviousVersion(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	store := NewStore(path, 5)

	cfg := sampleConfig()
	require.NoError(t, store.Save(cfg, 1))
	cfg.Repositories[0].Name = "Repo A renamed"
	require.NoError(t, store.Save(cfg, 2))

	entries, err := readDir(store.backupDir)
	require.NoError(t, err)
	require.Len(t, entries, 1) // only the v1 file was backed up before the v2 write
}
