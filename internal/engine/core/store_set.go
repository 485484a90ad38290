package core

import "sort"

// SAdd adds members to the set at key and returns how many were new.
func (s *Store) SAdd(key string, members ...string) (int, error) {
	if key == "" {
		return 0, ErrEmptyKey
	}

	sh := s.getShard(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	c, err := sh.getOrCreateLocked(key, KindSet)
	if err != nil {
		return 0, err
	}

	added := 0
	for _, m := range members {
		if m == "" {
			continue
		}
		if _, ok := c.set[m]; ok {
			continue
		}
		c.set[m] = struct{}{}
		sh.addSizeLocked(c, int64(len(m)))
		added++
	}
	sh.dropIfEmptyLocked(key, c)
	return added, nil
}

// SRem removes members from the set at key and returns how many existed.
func (s *Store) SRem(key string, members ...string) (int, error) {
	sh := s.getShard(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	c, err := sh.lookupLocked(key, KindSet)
	if err != nil || c == nil {
		return 0, err
	}

	removed := 0
	for _, m := range members {
		if _, ok := c.set[m]; ok {
			delete(c.set, m)
			sh.addSizeLocked(c, -int64(len(m)))
			removed++
		}
	}
	sh.dropIfEmptyLocked(key, c)
	return removed, nil
}

func (s *Store) SIsMember(key, member string) (bool, error) {
	sh := s.getShard(key)
	sh.mu.RLock()
	defer sh.mu.RUnlock()

	c, err := sh.lookupLocked(key, KindSet)
	if err != nil || c == nil {
		return false, err
	}
	_, ok := c.set[member]
	return ok, nil
}

func (s *Store) SCard(key string) (int, error) {
	sh := s.getShard(key)
	sh.mu.RLock()
	defer sh.mu.RUnlock()

	c, err := sh.lookupLocked(key, KindSet)
	if err != nil || c == nil {
		return 0, err
	}
	return len(c.set), nil
}

// SMembers returns the members sorted lexicographically.
func (s *Store) SMembers(key string) ([]string, error) {
	sh := s.getShard(key)
	sh.mu.RLock()
	c, err := sh.lookupLocked(key, KindSet)
	if err != nil || c == nil {
		sh.mu.RUnlock()
		return []string{}, err
	}
	out := make([]string, 0, len(c.set))
	for m := range c.set {
		out = append(out, m)
	}
	sh.mu.RUnlock()

	sort.Strings(out)
	return out, nil
}
