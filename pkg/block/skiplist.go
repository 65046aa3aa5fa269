package block

import (
	"math/rand"
)

// The extent index is a probabilistic skip list giving O(log n) expected
// insert, delete and ordered search. Two instances back the allocator:
// one keyed by device offset over all extents (predecessor/successor
// queries for coalescing), and one keyed by (length, offset) over free
// extents only ("first free extent with length >= n" on the write hot
// path).

const (
	skipMaxLevel = 16
	skipP        = 0.25
)

// skipKey orders nodes by (primary, secondary).
type skipKey struct {
	primary   uint64
	secondary uint64
}

func (k skipKey) less(o skipKey) bool {
	if k.primary != o.primary {
		return k.primary < o.primary
	}
	return k.secondary < o.secondary
}

type skipNode struct {
	key  skipKey
	ext  *Extent
	next []*skipNode
}

type skipList struct {
	head  *skipNode
	level int
	size  int
}

func newSkipList() *skipList {
	return &skipList{
		head:  &skipNode{next: make([]*skipNode, skipMaxLevel)},
		level: 1,
	}
}

func randomLevel() int {
	level := 1
	for level < skipMaxLevel && rand.Float64() < skipP {
		level++
	}
	return level
}

// insert adds ext under key. Keys are unique by construction (offsets
// never collide; free keys carry the offset as tiebreak).
func (l *skipList) insert(key skipKey, ext *Extent) {
	var update [skipMaxLevel]*skipNode
	node := l.head
	for i := l.level - 1; i >= 0; i-- {
		for node.next[i] != nil && node.next[i].key.less(key) {
			node = node.next[i]
		}
		update[i] = node
	}

	level := randomLevel()
	if level > l.level {
		for i := l.level; i < level; i++ {
			update[i] = l.head
		}
		l.level = level
	}

	n := &skipNode{key: key, ext: ext, next: make([]*skipNode, level)}
	for i := 0; i < level; i++ {
		n.next[i] = update[i].next[i]
		update[i].next[i] = n
	}
	l.size++
}

// remove deletes the node with exactly key, reporting whether it existed.
func (l *skipList) remove(key skipKey) bool {
	var update [skipMaxLevel]*skipNode
	node := l.head
	for i := l.level - 1; i >= 0; i-- {
		for node.next[i] != nil && node.next[i].key.less(key) {
			node = node.next[i]
		}
		update[i] = node
	}

	target := node.next[0]
	if target == nil || target.key != key {
		return false
	}
	for i := 0; i < l.level; i++ {
		if update[i].next[i] != target {
			break
		}
		update[i].next[i] = target.next[i]
	}
	for l.level > 1 && l.head.next[l.level-1] == nil {
		l.level--
	}
	l.size--
	return true
}

// ceil returns the first extent with key >= k, or nil.
func (l *skipList) ceil(k skipKey) *Extent {
	node := l.head
	for i := l.level - 1; i >= 0; i-- {
		for node.next[i] != nil && node.next[i].key.less(k) {
			node = node.next[i]
		}
	}
	if node.next[0] == nil {
		return nil
	}
	return node.next[0].ext
}

// floor returns the last extent with key <= k, or nil.
func (l *skipList) floor(k skipKey) *Extent {
	node := l.head
	for i := l.level - 1; i >= 0; i-- {
		for node.next[i] != nil && !k.less(node.next[i].key) {
			node = node.next[i]
		}
	}
	if node == l.head {
		return nil
	}
	return node.ext
}

// max returns the extent with the greatest key, or nil.
func (l *skipList) max() *Extent {
	node := l.head
	for i := l.level - 1; i >= 0; i-- {
		for node.next[i] != nil {
			node = node.next[i]
		}
	}
	if node == l.head {
		return nil
	}
	return node.ext
}

// walk visits every extent in key order until fn returns false.
func (l *skipList) walk(fn func(*Extent) bool) {
	for node := l.head.next[0]; node != nil; node = node.next[0] {
		if !fn(node.ext) {
			return
		}
	}
}
