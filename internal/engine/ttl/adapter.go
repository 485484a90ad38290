package ttl

import (
	"fmt"

	"github.com/AutoCookies/pomai-memberttl/internal/engine/common"
)

// RemoveMembers removes members from the collection at key using the
// removal operation of the collection's kind. A missing key returns
// ErrNoCollection; a key that is not a hash, set or sorted set returns
// common.ErrWrongType.
func RemoveMembers(ds DataStore, key string, members ...string) (int, error) {
	kind, err := ds.CollectionKind(key)
	if err != nil {
		return 0, err
	}

	switch kind {
	case common.KindNone:
		return 0, ErrNoCollection
	case common.KindHash:
		return ds.HDel(key, members...)
	case common.KindSet:
		return ds.SRem(key, members...)
	case common.KindZSet:
		return ds.ZRem(key, members...)
	}
	return 0, fmt.Errorf("%w: %s", common.ErrWrongType, kind)
}
