/*
 *
 * Copyright 2025 gRPC authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 *
 */

package hostcache

import (
	"bytes"
	"hash/fnv"

	"github.com/shmkit/shmcache/internal/shm"
)

// aliasMap is an ordered map kept as a treap inside a segment. Nodes are
// allocated from the segment heap and linked by offsets, and the root and
// entry count live in the segment header so every attached process sees the
// same map. Priorities are a hash of the key, which keeps the shape
// deterministic without any shared random state.
//
// All methods require the segment's named lock: shared for find and walk,
// exclusive for everything else.
type aliasMap struct {
	seg *shm.Segment
}

func newAliasMap(seg *shm.Segment) *aliasMap {
	return &aliasMap{seg: seg}
}

func (m *aliasMap) node(off uint64) *node {
	return (*node)(m.seg.Pointer(off))
}

func (m *aliasMap) key(off uint64) []byte {
	return m.seg.Slice(off+nodeKeyOffset, uint64(m.node(off).keyLen))
}

func (m *aliasMap) count() int {
	return int(m.seg.Count())
}

// find returns the node holding key, or 0.
func (m *aliasMap) find(key []byte) uint64 {
	t := m.seg.Root()
	for t != 0 {
		switch c := bytes.Compare(key, m.key(t)); {
		case c < 0:
			t = m.node(t).left
		case c > 0:
			t = m.node(t).right
		default:
			return t
		}
	}
	return 0
}

// insertOrAssign stores the entry for key, reusing the node if the key is
// present. The node is allocated before it is linked in, so a failed
// allocation leaves the map untouched.
func (m *aliasMap) insertOrAssign(key []byte, alias string, expiration, ttlSeconds int64) (bool, error) {
	if t := m.find(key); t != 0 {
		m.node(t).entry.set(alias, expiration, ttlSeconds)
		return false, nil
	}

	off, err := m.seg.Alloc(nodeKeyOffset + uint64(len(key)))
	if err != nil {
		return false, err
	}
	n := m.node(off)
	n.prio = priority(key)
	n.keyLen = uint32(len(key))
	copy(m.seg.Slice(off+nodeKeyOffset, uint64(len(key))), key)
	n.entry.set(alias, expiration, ttlSeconds)

	m.seg.SetRoot(m.insertAt(m.seg.Root(), off))
	m.seg.SetCount(m.seg.Count() + 1)
	return true, nil
}

func (m *aliasMap) insertAt(t, n uint64) uint64 {
	if t == 0 {
		return n
	}
	tn := m.node(t)
	if bytes.Compare(m.key(n), m.key(t)) < 0 {
		tn.left = m.insertAt(tn.left, n)
		if m.node(tn.left).prio > tn.prio {
			return m.rotateRight(t)
		}
	} else {
		tn.right = m.insertAt(tn.right, n)
		if m.node(tn.right).prio > tn.prio {
			return m.rotateLeft(t)
		}
	}
	return t
}

func (m *aliasMap) rotateRight(t uint64) uint64 {
	l := m.node(t).left
	m.node(t).left = m.node(l).right
	m.node(l).right = t
	return l
}

func (m *aliasMap) rotateLeft(t uint64) uint64 {
	r := m.node(t).right
	m.node(t).right = m.node(r).left
	m.node(r).left = t
	return r
}

// erase removes key and reports whether it was present.
func (m *aliasMap) erase(key []byte) bool {
	root, removed := m.eraseAt(m.seg.Root(), key)
	if removed == 0 {
		return false
	}
	m.seg.SetRoot(root)
	m.seg.SetCount(m.seg.Count() - 1)
	m.seg.Free(removed)
	return true
}

// eraseAt unlinks key from the subtree at t and returns the new subtree root
// and the unlinked node (0 if absent).
func (m *aliasMap) eraseAt(t uint64, key []byte) (uint64, uint64) {
	if t == 0 {
		return 0, 0
	}
	tn := m.node(t)
	var removed uint64
	switch c := bytes.Compare(key, m.key(t)); {
	case c < 0:
		tn.left, removed = m.eraseAt(tn.left, key)
		return t, removed
	case c > 0:
		tn.right, removed = m.eraseAt(tn.right, key)
		return t, removed
	default:
		return m.merge(tn.left, tn.right), t
	}
}

// merge joins two treaps where every key in a sorts before every key in b.
func (m *aliasMap) merge(a, b uint64) uint64 {
	if a == 0 {
		return b
	}
	if b == 0 {
		return a
	}
	if m.node(a).prio > m.node(b).prio {
		m.node(a).right = m.merge(m.node(a).right, b)
		return a
	}
	m.node(b).left = m.merge(a, m.node(b).left)
	return b
}

// eraseIf removes every entry for which drop returns true and returns how
// many were removed.
func (m *aliasMap) eraseIf(drop func(e *entry) bool) int {
	var doomed [][]byte
	m.walk(func(off uint64) bool {
		if drop(&m.node(off).entry) {
			doomed = append(doomed, bytes.Clone(m.key(off)))
		}
		return true
	})
	for _, key := range doomed {
		m.erase(key)
	}
	return len(doomed)
}

// walk visits nodes in key order until fn returns false.
func (m *aliasMap) walk(fn func(off uint64) bool) {
	var stack []uint64
	t := m.seg.Root()
	for t != 0 || len(stack) > 0 {
		for t != 0 {
			stack = append(stack, t)
			t = m.node(t).left
		}
		t = stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if !fn(t) {
			return
		}
		t = m.node(t).right
	}
}

// reset frees every node and leaves an empty map.
func (m *aliasMap) reset() {
	m.freeAt(m.seg.Root())
	m.seg.SetRoot(0)
	m.seg.SetCount(0)
}

func (m *aliasMap) freeAt(t uint64) {
	if t == 0 {
		return
	}
	n := m.node(t)
	m.freeAt(n.left)
	m.freeAt(n.right)
	m.seg.Free(t)
}

func priority(key []byte) uint32 {
	h := fnv.New32a()
	h.Write(key)
	return h.Sum32()
}
