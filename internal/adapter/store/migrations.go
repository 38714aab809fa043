package store

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"docrag/config"
)

// CurrentSchemaVersion is the on-disk layout version of a unit.
// Increment this when making breaking changes to the storage format.
const CurrentSchemaVersion = 1

// ErrRebuildRequired means a unit exists but cannot serve the current
// configuration; the index has to be rebuilt from source chunks.
var ErrRebuildRequired = errors.New("index rebuild required")

// ComputeConfigHash computes a hash of index-relevant configuration.
// Changes to this hash indicate the index should be rebuilt.
func ComputeConfigHash(cfg *config.Config) string {
	relevant := struct {
		EmbProvider string `json:"emb_provider"`
		EmbModel    string `json:"emb_model"`
		Dimension   int    `json:"dimension"`
		Backend     string `json:"backend"`
		HNSWM       int    `json:"hnsw_m"`
	}{
		EmbProvider: cfg.Embedding.Provider,
		EmbModel:    cfg.Embedding.Model,
		Dimension:   cfg.Embedding.Dimension,
		Backend:     cfg.Index.Backend,
		HNSWM:       cfg.Index.HNSWM,
	}

	data, _ := json.Marshal(relevant)
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:8])
}

// MigrationResult describes whether a stored unit is usable as is.
type MigrationResult struct {
	NeedsRebuild bool
	OldVersion   int
	NewVersion   int
	Reason       string
}

// CheckMigration compares a manifest against this build and the expected
// config hash. An empty configHash skips the configuration check.
func CheckMigration(m Manifest, configHash string) *MigrationResult {
	result := &MigrationResult{
		OldVersion: m.SchemaVersion,
		NewVersion: CurrentSchemaVersion,
	}

	switch {
	case m.SchemaVersion == 0:
		result.NeedsRebuild = true
		result.Reason = "unit has no schema version"
	case m.SchemaVersion < CurrentSchemaVersion:
		result.NeedsRebuild = true
		result.Reason = fmt.Sprintf("schema upgrade from v%d to v%d", m.SchemaVersion, CurrentSchemaVersion)
	case m.SchemaVersion > CurrentSchemaVersion:
		result.NeedsRebuild = true
		result.Reason = fmt.Sprintf("unit created by newer version (v%d > v%d)", m.SchemaVersion, CurrentSchemaVersion)
	case configHash != "" && m.ConfigHash != "" && m.ConfigHash != configHash:
		result.NeedsRebuild = true
		result.Reason = "index configuration changed"
	}

	return result
}

// NeedsRebuild wraps CheckMigration into an error suitable for callers.
func NeedsRebuild(m Manifest, configHash string) error {
	if r := CheckMigration(m, configHash); r.NeedsRebuild {
		return fmt.Errorf("%w: %s", ErrRebuildRequired, r.Reason)
	}
	return nil
}
