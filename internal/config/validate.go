package config

import (
	"encoding/json"
	"fmt"
)

// Validate checks the structural invariants spec §4.1 "Validation rules"
// requires: repositories is an array (always true for a Go slice), each
// repository has non-empty id/name/repositoryPath/tokenMaterial/workspaceId,
// and ids are unique.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	seen := make(map[string]bool, len(cfg.Repositories))
	for i, r := range cfg.Repositories {
		if r.ID == "" {
			return fmt.Errorf("repositories[%d]: id is required", i)
		}
		if r.Name == "" {
			return fmt.Errorf("repositories[%d] (%s): name is required", i, r.ID)
		}
		if r.RepositoryPath == "" {
			return fmt.Errorf("repositories[%d] (%s): repositoryPath is required", i, r.ID)
		}
		if r.TokenMaterial == "" {
			return fmt.Errorf("repositories[%d] (%s): tokenMaterial is required", i, r.ID)
		}
		if r.IssueTrackerWorkspaceID == "" {
			return fmt.Errorf("repositories[%d] (%s): issueTrackerWorkspaceId is required", i, r.ID)
		}
		if seen[r.ID] {
			return fmt.Errorf("repositories[%d]: duplicate id %q", i, r.ID)
		}
		seen[r.ID] = true
	}
	return nil
}

// Diff describes the repository-level and top-level changes between an old
// and a new Config (spec §4.1 "Diff algorithm").
type Diff struct {
	Added        []Repository
	Removed      []Repository
	Modified     []Repository // the new value of each modified repository
	OtherChanges bool
}

// ComputeDiff builds id->repo maps for old and new and classifies each
// repository as added/removed/modified, then checks whether any top-level
// field outside "repositories" differs.
func ComputeDiff(oldCfg, newCfg *Config) Diff {
	var d Diff
	oldByID := make(map[string]Repository, len(oldCfg.Repositories))
	for _, r := range oldCfg.Repositories {
		oldByID[r.ID] = r
	}
	newByID := make(map[string]Repository, len(newCfg.Repositories))
	for _, r := range newCfg.Repositories {
		newByID[r.ID] = r
	}

	for id, newRepo := range newByID {
		oldRepo, existed := oldByID[id]
		if !existed {
			d.Added = append(d.Added, newRepo)
			continue
		}
		if !reposEqual(oldRepo, newRepo) {
			d.Modified = append(d.Modified, newRepo)
		}
	}
	for id, oldRepo := range oldByID {
		if _, stillExists := newByID[id]; !stillExists {
			d.Removed = append(d.Removed, oldRepo)
		}
	}

	d.OtherChanges = otherFieldsDiffer(oldCfg, newCfg)
	return d
}

func reposEqual(a, b Repository) bool {
	aj, _ := json.Marshal(a)
	bj, _ := json.Marshal(b)
	return string(aj) == string(bj)
}

func otherFieldsDiffer(oldCfg, newCfg *Config) bool {
	strip := func(c *Config) *Config {
		clone := c.Clone()
		clone.Repositories = nil
		return clone
	}
	aj, _ := json.Marshal(strip(oldCfg))
	bj, _ := json.Marshal(strip(newCfg))
	return string(aj) != string(bj)
}
