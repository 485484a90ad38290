package core

// ZAdd adds member with score to the sorted set at key, or updates its
// score. It returns true when the member is new.
func (s *Store) ZAdd(key string, score float64, member string) (bool, error) {
	if key == "" {
		return false, ErrEmptyKey
	}
	if member == "" {
		return false, ErrEmptyMember
	}

	sh := s.getShard(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	c, err := sh.getOrCreateLocked(key, KindZSet)
	if err != nil {
		return false, err
	}

	added := c.zset.Add(member, score)
	if added {
		sh.addSizeLocked(c, zsetMemberSize(member))
	}
	return added, nil
}

// ZRem removes members from the sorted set at key and returns how many
// existed.
func (s *Store) ZRem(key string, members ...string) (int, error) {
	sh := s.getShard(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	c, err := sh.lookupLocked(key, KindZSet)
	if err != nil || c == nil {
		return 0, err
	}

	removed := 0
	for _, m := range members {
		if c.zset.Remove(m) {
			sh.addSizeLocked(c, -zsetMemberSize(m))
			removed++
		}
	}
	sh.dropIfEmptyLocked(key, c)
	return removed, nil
}

func (s *Store) ZScore(key, member string) (float64, bool, error) {
	sh := s.getShard(key)
	sh.mu.RLock()
	defer sh.mu.RUnlock()

	c, err := sh.lookupLocked(key, KindZSet)
	if err != nil || c == nil {
		return 0, false, err
	}
	score, ok := c.zset.Score(member)
	return score, ok, nil
}

func (s *Store) ZRank(key, member string) (int, error) {
	sh := s.getShard(key)
	sh.mu.RLock()
	defer sh.mu.RUnlock()

	c, err := sh.lookupLocked(key, KindZSet)
	if err != nil || c == nil {
		return -1, err
	}
	return c.zset.Rank(member), nil
}

func (s *Store) ZRange(key string, start, stop int) ([]string, error) {
	sh := s.getShard(key)
	sh.mu.RLock()
	defer sh.mu.RUnlock()

	c, err := sh.lookupLocked(key, KindZSet)
	if err != nil || c == nil {
		return []string{}, err
	}
	return c.zset.Range(start, stop), nil
}

func (s *Store) ZCard(key string) (int, error) {
	sh := s.getShard(key)
	sh.mu.RLock()
	defer sh.mu.RUnlock()

	c, err := sh.lookupLocked(key, KindZSet)
	if err != nil || c == nil {
		return 0, err
	}
	return c.zset.Len(), nil
}
