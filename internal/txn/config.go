package txn

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// RuntimeConfig holds the knobs a deployment hands this engine at startup —
// the teacher's own pattern of loading operational parameters from YAML
// (the direct gopkg.in/yaml.v3 dependency it already carries), applied here
// to worker/protocol/reclamation sizing instead of SQL server settings.
type RuntimeConfig struct {
	// Workers is the number of concurrent transaction-issuing goroutines
	// a benchmark driver should run (cmd/ccbench reads this; the core
	// itself imposes no limit beyond AtomicMap/AtomicSet capacity).
	Workers int `yaml:"workers"`

	// Protocol names a coordinator: one of "2pl", "nfn", "mvocc",
	// "tictoc". cmd/ccbench only prints it; each of its scenarios uses a
	// fixed protocol regardless of this value.
	Protocol string `yaml:"protocol"`

	// MaxTxns sizes the per-transaction AtomicMaps (wait-die's
	// start-timestamp table, the SGT's node map, TicToc's lock-owner map)
	// to comfortably hold this many concurrently live transactions. The
	// SGT's per-node edge sets have their own fixed capacity.
	MaxTxns int `yaml:"max_txns"`

	// AllocatorChunkSize is the configured chunk size (in elements) per
	// slab, per §4.3. The chunk allocator in internal/ds does not read it;
	// it always uses its fixed chunkSize of 256.
	AllocatorChunkSize int `yaml:"allocator_chunk_size"`

	// ReclaimInterval is how often the epoch reclaimer ticks (§4.3,
	// "periodically the manager computes the minimum active epoch").
	ReclaimInterval time.Duration `yaml:"reclaim_interval"`
}

// DefaultConfig returns the settings used when no YAML file is supplied.
func DefaultConfig() RuntimeConfig {
	return RuntimeConfig{
		Workers:            8,
		Protocol:           "nfn",
		MaxTxns:            1024,
		AllocatorChunkSize: 256,
		ReclaimInterval:    50 * time.Millisecond,
	}
}

// LoadConfig reads a YAML RuntimeConfig from path, starting from
// DefaultConfig so an omitted field keeps its default rather than zeroing
// out.
func LoadConfig(path string) (RuntimeConfig, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}
