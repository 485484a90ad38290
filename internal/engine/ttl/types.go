// File: internal/engine/ttl/types.go
package ttl

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/AutoCookies/pomai-memberttl/internal/engine/common"
)

var (
	ErrInvalidTTL   = errors.New("invalid ttl value")
	ErrInvalidUnit  = errors.New("invalid time unit")
	ErrClosed       = errors.New("expiration engine is stopped")
	ErrNoCollection = common.ErrNoSuchKey
)

// maxTTL keeps now+ttl representable as Unix nanoseconds.
const maxTTL = 100 * 365 * 24 * time.Hour

// Identity addresses one expirable member. Using a struct as the map key
// means no two distinct (key, member) pairs can collapse into one entry.
type Identity struct {
	Key    string
	Member string
}

// Unit is the time unit of a TTL value.
type Unit uint8

const (
	UnitSeconds Unit = iota
	UnitMilliseconds
)

func (u Unit) String() string {
	switch u {
	case UnitSeconds:
		return "s"
	case UnitMilliseconds:
		return "ms"
	}
	return fmt.Sprintf("Unit(%d)", u)
}

func (u Unit) valid() bool {
	return u == UnitSeconds || u == UnitMilliseconds
}

func (u Unit) base() time.Duration {
	if u == UnitMilliseconds {
		return time.Millisecond
	}
	return time.Second
}

// Duration converts a positive ttl in this unit, rejecting values that
// would overflow.
func (u Unit) Duration(ttl int64) (time.Duration, error) {
	if !u.valid() {
		return 0, fmt.Errorf("%w: %s", ErrInvalidUnit, u)
	}
	base := int64(u.base())
	if ttl > math.MaxInt64/base || time.Duration(ttl*base) > maxTTL {
		return 0, fmt.Errorf("%w: %d%s is too large", ErrInvalidTTL, ttl, u)
	}
	return time.Duration(ttl * base), nil
}

// ParseUnit accepts "s" and "ms" in any case. An empty string means
// seconds.
func ParseUnit(raw string) (Unit, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "s":
		return UnitSeconds, nil
	case "ms":
		return UnitMilliseconds, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidUnit, raw)
}

// ParseTTL parses a signed integer TTL.
func ParseTTL(raw string) (int64, error) {
	v, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidTTL, raw)
	}
	return v, nil
}

// Status is the integer reply of an expire call.
type Status int

const (
	// StatusNone: no active expiration remains and nothing was removed.
	StatusNone Status = 0
	// StatusActive: an expiration was set, or a member was removed now.
	StatusActive Status = 1
)

// DataStore is what the engine needs from the store holding the
// collections. Removals must be no-ops on missing keys and members.
type DataStore interface {
	CollectionKind(key string) (common.Kind, error)
	HDel(key string, fields ...string) (int, error)
	SRem(key string, members ...string) (int, error)
	ZRem(key string, members ...string) (int, error)
}

// OverflowPolicy decides what happens to a pending entry when the bounded
// queue is full. Neither policy blocks the caller.
type OverflowPolicy uint8

const (
	// OverflowSpill parks the entry on an unbounded overflow list that the
	// reaper drains together with the queue.
	OverflowSpill OverflowPolicy = iota
	// OverflowDrop discards the entry. The index still holds the due-time,
	// so the member only expires if a later schedule call gets queued.
	OverflowDrop
)

func (p OverflowPolicy) String() string {
	if p == OverflowDrop {
		return "drop"
	}
	return "spill"
}

func ParseOverflowPolicy(raw string) (OverflowPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "spill":
		return OverflowSpill, nil
	case "drop":
		return OverflowDrop, nil
	}
	return 0, fmt.Errorf("unknown overflow policy %q", raw)
}
