package core

// HSet sets field in the hash at key, creating the hash when missing.
// It returns true when the field is new.
func (s *Store) HSet(key, field string, value []byte) (bool, error) {
	if key == "" {
		return false, ErrEmptyKey
	}
	if field == "" {
		return false, ErrEmptyMember
	}

	encoded := encodeValue(value, s.config.CompressThreshold)
	sh := s.getShard(key)

	sh.mu.Lock()
	defer sh.mu.Unlock()

	c, err := sh.getOrCreateLocked(key, KindHash)
	if err != nil {
		return false, err
	}

	old, existed := c.hash[field]
	c.hash[field] = encoded
	if existed {
		sh.addSizeLocked(c, int64(len(encoded)-len(old)))
	} else {
		sh.addSizeLocked(c, int64(len(field)+len(encoded)))
	}
	return !existed, nil
}

func (s *Store) HGet(key, field string) ([]byte, bool, error) {
	sh := s.getShard(key)
	sh.mu.RLock()
	c, err := sh.lookupLocked(key, KindHash)
	if err != nil || c == nil {
		sh.mu.RUnlock()
		return nil, false, err
	}
	raw, ok := c.hash[field]
	sh.mu.RUnlock()

	if !ok {
		return nil, false, nil
	}
	val, err := decodeValue(raw)
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

// HDel removes fields from the hash at key and returns how many existed.
// A missing key is not an error.
func (s *Store) HDel(key string, fields ...string) (int, error) {
	sh := s.getShard(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	c, err := sh.lookupLocked(key, KindHash)
	if err != nil || c == nil {
		return 0, err
	}

	removed := 0
	for _, f := range fields {
		if v, ok := c.hash[f]; ok {
			delete(c.hash, f)
			sh.addSizeLocked(c, -int64(len(f)+len(v)))
			removed++
		}
	}
	sh.dropIfEmptyLocked(key, c)
	return removed, nil
}

func (s *Store) HExists(key, field string) (bool, error) {
	sh := s.getShard(key)
	sh.mu.RLock()
	defer sh.mu.RUnlock()

	c, err := sh.lookupLocked(key, KindHash)
	if err != nil || c == nil {
		return false, err
	}
	_, ok := c.hash[field]
	return ok, nil
}

func (s *Store) HLen(key string) (int, error) {
	sh := s.getShard(key)
	sh.mu.RLock()
	defer sh.mu.RUnlock()

	c, err := sh.lookupLocked(key, KindHash)
	if err != nil || c == nil {
		return 0, err
	}
	return len(c.hash), nil
}

func (s *Store) HGetAll(key string) (map[string][]byte, error) {
	sh := s.getShard(key)
	sh.mu.RLock()
	c, err := sh.lookupLocked(key, KindHash)
	if err != nil || c == nil {
		sh.mu.RUnlock()
		return map[string][]byte{}, err
	}
	raw := make(map[string][]byte, len(c.hash))
	for f, v := range c.hash {
		raw[f] = v
	}
	sh.mu.RUnlock()

	out := make(map[string][]byte, len(raw))
	for f, v := range raw {
		val, err := decodeValue(v)
		if err != nil {
			return nil, err
		}
		out[f] = val
	}
	return out, nil
}
