package core

import (
	"github.com/golang/snappy"

	"github.com/AutoCookies/pomai-memberttl/packages/ds/skiplist"
)

const (
	magicRaw        byte = 0
	magicCompressed byte = 1
)

// collection is the value held under one key. Exactly one of the payload
// fields is in use, selected by kind.
type collection struct {
	kind Kind

	value []byte
	hash  map[string][]byte
	set   map[string]struct{}
	zset  *skiplist.Skiplist

	size int64
}

func newCollection(kind Kind) *collection {
	c := &collection{kind: kind}
	switch kind {
	case KindHash:
		c.hash = make(map[string][]byte)
	case KindSet:
		c.set = make(map[string]struct{})
	case KindZSet:
		c.zset = skiplist.New()
	}
	return c
}

// members returns the element count of the collection (1 for strings).
func (c *collection) members() int {
	switch c.kind {
	case KindHash:
		return len(c.hash)
	case KindSet:
		return len(c.set)
	case KindZSet:
		return c.zset.Len()
	case KindString:
		return 1
	}
	return 0
}

func (c *collection) empty() bool {
	return c.kind != KindString && c.members() == 0
}

// zsetMemberSize approximates the footprint of a sorted set entry
// (member bytes plus score and node pointers).
func zsetMemberSize(member string) int64 {
	return int64(len(member)) + 16
}

// encodeValue prefixes v with a magic byte and compresses it when it is at
// least threshold bytes long and compression actually helps.
func encodeValue(v []byte, threshold int) []byte {
	if threshold > 0 && len(v) >= threshold {
		compressed := snappy.Encode(nil, v)
		if len(compressed) < len(v) {
			out := make([]byte, len(compressed)+1)
			out[0] = magicCompressed
			copy(out[1:], compressed)
			return out
		}
	}
	out := make([]byte, len(v)+1)
	out[0] = magicRaw
	copy(out[1:], v)
	return out
}

func decodeValue(raw []byte) ([]byte, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	payload := raw[1:]
	if raw[0] == magicCompressed {
		return snappy.Decode(nil, payload)
	}
	out := make([]byte, len(payload))
	copy(out, payload)
	return out, nil
}
