// File: internal/engine/core/types.go
package core

import (
	"github.com/AutoCookies/pomai-memberttl/internal/engine/common"
)

// StoreConfig configures the data store
type StoreConfig struct {
	ShardCount int
	TenantID   string

	// CompressThreshold is the value size from which string values and
	// hash field values are snappy-compressed. <= 0 disables compression.
	CompressThreshold int
}

// DefaultStoreConfig returns default configuration
func DefaultStoreConfig() *StoreConfig {
	return &StoreConfig{
		ShardCount:        256,
		TenantID:          "default",
		CompressThreshold: 256,
	}
}

// Use aliases to common types
type Kind = common.Kind

const (
	KindNone   = common.KindNone
	KindString = common.KindString
	KindHash   = common.KindHash
	KindSet    = common.KindSet
	KindZSet   = common.KindZSet
)

var (
	ErrEmptyKey    = common.ErrEmptyKey
	ErrEmptyMember = common.ErrEmptyMember
	ErrWrongType   = common.ErrWrongType
)

// Stats represents store statistics
type Stats struct {
	Keys       int64          `json:"keys"`
	Members    int64          `json:"members"`
	Bytes      int64          `json:"bytes"`
	ByKind     map[string]int `json:"by_kind"`
	ShardCount int            `json:"shard_count"`
	TenantID   string         `json:"tenant_id"`
}
