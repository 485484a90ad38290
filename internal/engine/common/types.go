// File: internal/engine/common/types.go
package common

import "errors"

var (
	ErrEmptyKey    = errors.New("empty key")
	ErrEmptyMember = errors.New("empty member")
	ErrWrongType   = errors.New("operation against a key holding the wrong kind of value")
	ErrNoSuchKey   = errors.New("no such key")
)

// Kind identifies the stored representation of a key.
type Kind uint8

const (
	KindNone Kind = iota
	KindString
	KindHash
	KindSet
	KindZSet
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindHash:
		return "hash"
	case KindSet:
		return "set"
	case KindZSet:
		return "zset"
	default:
		return "none"
	}
}

// ParseKind maps a type name as reported by TYPE back to a Kind.
// Unknown names map to KindNone with ok=false.
func ParseKind(name string) (Kind, bool) {
	switch name {
	case "none":
		return KindNone, true
	case "string":
		return KindString, true
	case "hash":
		return KindHash, true
	case "set":
		return KindSet, true
	case "zset":
		return KindZSet, true
	}
	return KindNone, false
}

// IsCollection reports whether members of the kind can carry their own TTL.
func (k Kind) IsCollection() bool {
	return k == KindHash || k == KindSet || k == KindZSet
}
