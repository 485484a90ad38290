// File: packages/ds/skiplist/skiplist.go
package skiplist

import (
	"math/rand"
)

const maxLevel = 32
const probability = 0.25

// NodePublic exports a member/score pair outside the package.
type NodePublic struct {
	Member string  `json:"member"`
	Score  float64 `json:"score"`
}

type znode struct {
	member string
	score  float64
	next   []*znode
}

// Skiplist keeps members ordered by (score, member). It is not safe for
// concurrent use; callers hold their own lock.
type Skiplist struct {
	head  *znode
	level int
	dict  map[string]*znode
}

func New() *Skiplist {
	return &Skiplist{
		head:  &znode{next: make([]*znode, maxLevel)},
		level: 1,
		dict:  make(map[string]*znode),
	}
}

func before(n *znode, score float64, member string) bool {
	if n.score != score {
		return n.score < score
	}
	return n.member < member
}

// Add inserts member or updates its score. It returns true when the member
// was not present before.
func (z *Skiplist) Add(member string, score float64) bool {
	old, existed := z.dict[member]
	if existed {
		if old.score == score {
			return false
		}
		z.Remove(member)
	}

	update := make([]*znode, maxLevel)
	current := z.head

	for i := z.level - 1; i >= 0; i-- {
		for current.next[i] != nil && before(current.next[i], score, member) {
			current = current.next[i]
		}
		update[i] = current
	}

	lvl := randomLevel()
	if lvl > z.level {
		for i := z.level; i < lvl; i++ {
			update[i] = z.head
		}
		z.level = lvl
	}

	n := &znode{
		member: member,
		score:  score,
		next:   make([]*znode, lvl),
	}

	for i := 0; i < lvl; i++ {
		n.next[i] = update[i].next[i]
		update[i].next[i] = n
	}

	z.dict[member] = n
	return !existed
}

// Remove deletes member and reports whether it was present.
func (z *Skiplist) Remove(member string) bool {
	node, ok := z.dict[member]
	if !ok {
		return false
	}

	update := make([]*znode, maxLevel)
	current := z.head

	for i := z.level - 1; i >= 0; i-- {
		for current.next[i] != nil && before(current.next[i], node.score, node.member) {
			current = current.next[i]
		}
		update[i] = current
	}

	for i := 0; i < z.level; i++ {
		if update[i].next[i] == node {
			update[i].next[i] = node.next[i]
		}
	}

	for z.level > 1 && z.head.next[z.level-1] == nil {
		z.level--
	}
	delete(z.dict, member)
	return true
}

func (z *Skiplist) Score(member string) (float64, bool) {
	n, ok := z.dict[member]
	if !ok {
		return 0, false
	}
	return n.score, true
}

// Rank returns the 0-based position of member, or -1.
func (z *Skiplist) Rank(member string) int {
	if _, ok := z.dict[member]; !ok {
		return -1
	}
	rank := 0
	for cur := z.head.next[0]; cur != nil; cur = cur.next[0] {
		if cur.member == member {
			return rank
		}
		rank++
	}
	return -1
}

func (z *Skiplist) Len() int {
	return len(z.dict)
}

// Range returns members with rank in [start, stop]. Negative indexes count
// from the end, so Range(0, -1) returns everything.
func (z *Skiplist) Range(start, stop int) []string {
	n := len(z.dict)
	if start < 0 {
		start += n
	}
	if stop < 0 {
		stop += n
	}
	if start < 0 {
		start = 0
	}
	if stop >= n {
		stop = n - 1
	}

	result := []string{}
	if start > stop {
		return result
	}

	rank := 0
	for cur := z.head.next[0]; cur != nil && rank <= stop; cur = cur.next[0] {
		if rank >= start {
			result = append(result, cur.member)
		}
		rank++
	}
	return result
}

func randomLevel() int {
	lvl := 1
	for rand.Float64() < probability && lvl < maxLevel {
		lvl++
	}
	return lvl
}

// Dump returns every member in order (used by snapshots).
func (z *Skiplist) Dump() []NodePublic {
	result := make([]NodePublic, 0, len(z.dict))
	for cur := z.head.next[0]; cur != nil; cur = cur.next[0] {
		result = append(result, NodePublic{
			Member: cur.member,
			Score:  cur.score,
		})
	}
	return result
}
