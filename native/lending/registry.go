package lending

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

const nilNode = int32(-1)

type registryNode struct {
	user    common.Address
	balance *big.Int
	prev    int32
	next    int32
}

// Registry is one ordered collection of (user, balance) entries, largest
// balance first. Nodes live in an arena indexed by stable int32 handles with
// explicit prev/next links; removal re-links neighbours in O(1) through the
// user index map.
//
// Insertion walks from the head and stops after maxSteps comparisons. When the
// budget runs out the entry is linked at the last examined position instead of
// its exact sorted slot: the list trades strict global ordering for a bounded
// per-operation cost and must stay structurally intact regardless.
type Registry struct {
	nodes []registryNode
	free  []int32
	index map[common.Address]int32
	head  int32
	tail  int32
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		index: make(map[common.Address]int32),
		head:  nilNode,
		tail:  nilNode,
	}
}

// Len reports the number of entries.
func (r *Registry) Len() int {
	return len(r.index)
}

// Head returns the user with the largest balance, or false when empty.
func (r *Registry) Head() (common.Address, bool) {
	if r.head == nilNode {
		return common.Address{}, false
	}
	return r.nodes[r.head].user, true
}

// BalanceOf returns the tracked balance for user, or zero when absent.
func (r *Registry) BalanceOf(user common.Address) *big.Int {
	idx, ok := r.index[user]
	if !ok {
		return big.NewInt(0)
	}
	return new(big.Int).Set(r.nodes[idx].balance)
}

// Contains reports whether user has an entry.
func (r *Registry) Contains(user common.Address) bool {
	_, ok := r.index[user]
	return ok
}

// InsertOrUpdate records the balance for user, keeping the descending order
// as far as maxSteps traversal steps allow. A zero balance removes the entry.
// An existing entry whose neighbours still bracket the new balance is updated
// in place; otherwise it is removed and reinserted from the head.
func (r *Registry) InsertOrUpdate(user common.Address, balance *big.Int, maxSteps uint64) {
	if balance == nil || balance.Sign() <= 0 {
		r.Remove(user)
		return
	}
	if idx, ok := r.index[user]; ok {
		node := &r.nodes[idx]
		prevOK := node.prev == nilNode || r.nodes[node.prev].balance.Cmp(balance) >= 0
		nextOK := node.next == nilNode || r.nodes[node.next].balance.Cmp(balance) <= 0
		if prevOK && nextOK {
			node.balance = new(big.Int).Set(balance)
			return
		}
		r.unlink(idx)
	}
	r.insertSorted(user, new(big.Int).Set(balance), maxSteps)
}

// Remove drops the entry for user, re-linking its neighbours. It reports
// whether an entry existed.
func (r *Registry) Remove(user common.Address) bool {
	idx, ok := r.index[user]
	if !ok {
		return false
	}
	r.unlink(idx)
	return true
}

func (r *Registry) insertSorted(user common.Address, balance *big.Int, maxSteps uint64) {
	idx := r.alloc(user, balance)

	cursor := r.head
	var steps uint64
	for cursor != nilNode && steps < maxSteps && r.nodes[cursor].balance.Cmp(balance) >= 0 {
		cursor = r.nodes[cursor].next
		steps++
	}

	// Link before cursor; at the tail when the walk ran off the end. A walk
	// cut short by maxSteps links here too, accepting the approximate slot.
	if cursor == nilNode {
		r.linkAfter(r.tail, idx)
		return
	}
	r.linkBefore(cursor, idx)
}

func (r *Registry) alloc(user common.Address, balance *big.Int) int32 {
	var idx int32
	if n := len(r.free); n > 0 {
		idx = r.free[n-1]
		r.free = r.free[:n-1]
		r.nodes[idx] = registryNode{user: user, balance: balance, prev: nilNode, next: nilNode}
	} else {
		idx = int32(len(r.nodes))
		r.nodes = append(r.nodes, registryNode{user: user, balance: balance, prev: nilNode, next: nilNode})
	}
	r.index[user] = idx
	return idx
}

func (r *Registry) linkBefore(at, idx int32) {
	node := &r.nodes[idx]
	anchor := &r.nodes[at]
	node.next = at
	node.prev = anchor.prev
	if anchor.prev != nilNode {
		r.nodes[anchor.prev].next = idx
	} else {
		r.head = idx
	}
	anchor.prev = idx
}

func (r *Registry) linkAfter(at, idx int32) {
	node := &r.nodes[idx]
	if at == nilNode {
		// Empty list.
		r.head = idx
		r.tail = idx
		node.prev = nilNode
		node.next = nilNode
		return
	}
	anchor := &r.nodes[at]
	node.prev = at
	node.next = anchor.next
	if anchor.next != nilNode {
		r.nodes[anchor.next].prev = idx
	} else {
		r.tail = idx
	}
	anchor.next = idx
}

func (r *Registry) unlink(idx int32) {
	node := r.nodes[idx]
	if node.prev != nilNode {
		r.nodes[node.prev].next = node.next
	} else {
		r.head = node.next
	}
	if node.next != nilNode {
		r.nodes[node.next].prev = node.prev
	} else {
		r.tail = node.prev
	}
	delete(r.index, node.user)
	r.nodes[idx] = registryNode{prev: nilNode, next: nilNode}
	r.free = append(r.free, idx)
}

// Users returns the entries head to tail. Intended for tests and read
// accessors, not hot paths.
func (r *Registry) Users() []common.Address {
	out := make([]common.Address, 0, len(r.index))
	for cursor := r.head; cursor != nilNode; cursor = r.nodes[cursor].next {
		out = append(out, r.nodes[cursor].user)
	}
	return out
}

// Clone returns a deep copy of the registry.
func (r *Registry) Clone() *Registry {
	clone := &Registry{
		nodes: make([]registryNode, len(r.nodes)),
		free:  append([]int32(nil), r.free...),
		index: make(map[common.Address]int32, len(r.index)),
		head:  r.head,
		tail:  r.tail,
	}
	for i, node := range r.nodes {
		clone.nodes[i] = node
		if node.balance != nil {
			clone.nodes[i].balance = new(big.Int).Set(node.balance)
		}
	}
	for user, idx := range r.index {
		clone.index[user] = idx
	}
	return clone
}
