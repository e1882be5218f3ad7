package lending

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func testAddr(b byte) common.Address {
	var a common.Address
	a[19] = b
	return a
}

func assertOrder(t *testing.T, r *Registry, want ...common.Address) {
	t.Helper()
	got := r.Users()
	if len(got) != len(want) {
		t.Fatalf("registry length: got %d want %d (%v)", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("registry order at %d: got %s want %s", i, got[i].Hex(), want[i].Hex())
		}
	}
}

func TestRegistryInsertKeepsDescendingOrder(t *testing.T) {
	r := NewRegistry()
	r.InsertOrUpdate(testAddr(1), big.NewInt(30), 16)
	r.InsertOrUpdate(testAddr(2), big.NewInt(50), 16)
	r.InsertOrUpdate(testAddr(3), big.NewInt(40), 16)
	r.InsertOrUpdate(testAddr(4), big.NewInt(10), 16)

	assertOrder(t, r, testAddr(2), testAddr(3), testAddr(1), testAddr(4))

	head, ok := r.Head()
	if !ok || head != testAddr(2) {
		t.Fatalf("head: got %s ok=%v want %s", head.Hex(), ok, testAddr(2).Hex())
	}
	if got := r.BalanceOf(testAddr(3)); got.Cmp(big.NewInt(40)) != 0 {
		t.Fatalf("balance of 3: got %s want 40", got)
	}
}

func TestRegistryBoundedInsertLinksAtLastExaminedSlot(t *testing.T) {
	r := NewRegistry()
	r.InsertOrUpdate(testAddr(1), big.NewInt(50), 16)
	r.InsertOrUpdate(testAddr(2), big.NewInt(40), 16)
	r.InsertOrUpdate(testAddr(3), big.NewInt(30), 16)

	// The true slot for balance 1 is the tail, but the walk is cut after one
	// comparison and the entry lands right behind the head.
	r.InsertOrUpdate(testAddr(4), big.NewInt(1), 1)
	assertOrder(t, r, testAddr(1), testAddr(4), testAddr(2), testAddr(3))

	// The list must stay structurally sound: removal around the misplaced
	// entry re-links cleanly.
	r.Remove(testAddr(4))
	assertOrder(t, r, testAddr(1), testAddr(2), testAddr(3))
}

func TestRegistryZeroBudgetStillInserts(t *testing.T) {
	r := NewRegistry()
	r.InsertOrUpdate(testAddr(1), big.NewInt(50), 16)
	r.InsertOrUpdate(testAddr(2), big.NewInt(40), 16)

	r.InsertOrUpdate(testAddr(3), big.NewInt(45), 0)
	if !r.Contains(testAddr(3)) {
		t.Fatalf("entry must exist even with a zero traversal budget")
	}
	if r.Len() != 3 {
		t.Fatalf("len: got %d want 3", r.Len())
	}
}

func TestRegistryUpdateInPlaceWhenNeighboursBracket(t *testing.T) {
	r := NewRegistry()
	r.InsertOrUpdate(testAddr(1), big.NewInt(50), 16)
	r.InsertOrUpdate(testAddr(2), big.NewInt(40), 16)
	r.InsertOrUpdate(testAddr(3), big.NewInt(30), 16)

	// 40 -> 35 stays between 50 and 30.
	r.InsertOrUpdate(testAddr(2), big.NewInt(35), 16)
	assertOrder(t, r, testAddr(1), testAddr(2), testAddr(3))
	if got := r.BalanceOf(testAddr(2)); got.Cmp(big.NewInt(35)) != 0 {
		t.Fatalf("updated balance: got %s want 35", got)
	}

	// 35 -> 60 breaks the bracket and forces a reinsertion at the head.
	r.InsertOrUpdate(testAddr(2), big.NewInt(60), 16)
	assertOrder(t, r, testAddr(2), testAddr(1), testAddr(3))
}

func TestRegistryZeroBalanceRemoves(t *testing.T) {
	r := NewRegistry()
	r.InsertOrUpdate(testAddr(1), big.NewInt(50), 16)
	r.InsertOrUpdate(testAddr(2), big.NewInt(40), 16)

	r.InsertOrUpdate(testAddr(1), big.NewInt(0), 16)
	if r.Contains(testAddr(1)) {
		t.Fatalf("zero balance must remove the entry")
	}
	assertOrder(t, r, testAddr(2))

	head, ok := r.Head()
	if !ok || head != testAddr(2) {
		t.Fatalf("head after removal: got %s ok=%v", head.Hex(), ok)
	}
}

func TestRegistryRemoveHeadAndTail(t *testing.T) {
	r := NewRegistry()
	r.InsertOrUpdate(testAddr(1), big.NewInt(50), 16)
	r.InsertOrUpdate(testAddr(2), big.NewInt(40), 16)
	r.InsertOrUpdate(testAddr(3), big.NewInt(30), 16)

	if !r.Remove(testAddr(1)) {
		t.Fatalf("remove head should report true")
	}
	assertOrder(t, r, testAddr(2), testAddr(3))
	if !r.Remove(testAddr(3)) {
		t.Fatalf("remove tail should report true")
	}
	assertOrder(t, r, testAddr(2))
	if r.Remove(testAddr(9)) {
		t.Fatalf("removing an absent user should report false")
	}

	r.Remove(testAddr(2))
	if _, ok := r.Head(); ok || r.Len() != 0 {
		t.Fatalf("registry should be empty")
	}
}

func TestRegistryArenaReusesFreedSlots(t *testing.T) {
	r := NewRegistry()
	for i := byte(1); i <= 8; i++ {
		r.InsertOrUpdate(testAddr(i), big.NewInt(int64(i)*10), 16)
	}
	for i := byte(1); i <= 8; i++ {
		r.Remove(testAddr(i))
	}
	arena := len(r.nodes)
	for i := byte(1); i <= 8; i++ {
		r.InsertOrUpdate(testAddr(i), big.NewInt(int64(9-i)*10), 16)
	}
	if len(r.nodes) != arena {
		t.Fatalf("arena grew from %d to %d despite free slots", arena, len(r.nodes))
	}
	assertOrder(t, r,
		testAddr(1), testAddr(2), testAddr(3), testAddr(4),
		testAddr(5), testAddr(6), testAddr(7), testAddr(8))
}

func TestRegistryCloneIsIndependent(t *testing.T) {
	r := NewRegistry()
	r.InsertOrUpdate(testAddr(1), big.NewInt(50), 16)
	r.InsertOrUpdate(testAddr(2), big.NewInt(40), 16)

	clone := r.Clone()
	r.InsertOrUpdate(testAddr(1), big.NewInt(0), 16)
	r.InsertOrUpdate(testAddr(3), big.NewInt(99), 16)

	assertOrder(t, clone, testAddr(1), testAddr(2))
	if got := clone.BalanceOf(testAddr(1)); got.Cmp(big.NewInt(50)) != 0 {
		t.Fatalf("clone balance mutated: got %s want 50", got)
	}
}
