package config

import "fmt"

// Similarity index backends.
const (
	BackendExact    = "exact"
	BackendGraph    = "graph"
	BackendQdrant   = "qdrant"
	BackendPGVector = "pgvector"
)

// IndexConfig selects and tunes the similarity index. SearchBreadth and
// RescoreDepth are process-wide; approximate backends map them to their own knobs.
type IndexConfig struct {
	Backend          string         `mapstructure:"backend"`
	SearchBreadth    int            `mapstructure:"search_breadth"`
	RescoreDepth     int            `mapstructure:"rescore_depth"`
	ReconcileOnStart bool           `mapstructure:"reconcile_on_start"`
	Graph            GraphConfig    `mapstructure:"graph"`
	Qdrant           QdrantConfig   `mapstructure:"qdrant"`
	PGVector         PGVectorConfig `mapstructure:"pgvector"`
}

type GraphConfig struct {
	MaxDegree      int `mapstructure:"max_degree"`
	EfConstruction int `mapstructure:"ef_construction"`
}

type QdrantConfig struct {
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	Collection string `mapstructure:"collection"`
	APIKey     string `mapstructure:"api_key"`
	UseTLS     bool   `mapstructure:"use_tls"`
}

// PGVectorConfig.ANN is one of "none", "hnsw", "diskann".
type PGVectorConfig struct {
	ANN string `mapstructure:"ann"`
}

// Validate checks backend selection and tuning parameters.
func (c *IndexConfig) Validate() error {
	switch c.Backend {
	case BackendExact, BackendGraph, BackendQdrant, BackendPGVector:
	default:
		return fmt.Errorf("index: unknown backend %q", c.Backend)
	}
	if c.SearchBreadth <= 0 {
		return fmt.Errorf("index: search_breadth must be positive")
	}
	if c.RescoreDepth <= 0 {
		return fmt.Errorf("index: rescore_depth must be positive")
	}
	if c.Backend == BackendGraph {
		if c.Graph.MaxDegree < 2 {
			return fmt.Errorf("index: graph.max_degree must be at least 2")
		}
		if c.Graph.EfConstruction < c.Graph.MaxDegree {
			return fmt.Errorf("index: graph.ef_construction must be >= graph.max_degree")
		}
	}
	if c.Backend == BackendPGVector {
		switch c.PGVector.ANN {
		case "none", "hnsw", "diskann":
		default:
			return fmt.Errorf("index: unknown pgvector.ann %q", c.PGVector.ANN)
		}
	}
	return nil
}
