package array

import (
	"context"
	"errors"
	"sync"
	"testing"

	"dsm/internal/wire"
)

var errReadOnly = errors.New("read only")

// fakeMemory keeps every array in one process and counts lock traffic.
type fakeMemory struct {
	mu      sync.Mutex
	quantum int
	arrays  [][]int64
	modes   []wire.Mode
	locks   map[[2]int]int
	unlocks map[[2]int]int
}

func newFakeMemory(quantum int) *fakeMemory {
	return &fakeMemory{quantum: quantum, locks: map[[2]int]int{}, unlocks: map[[2]int]int{}}
}

func (f *fakeMemory) CreateObject(_ context.Context, elements int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.arrays = append(f.arrays, make([]int64, elements))
	f.modes = append(f.modes, wire.ReadWrite)
	return len(f.arrays) - 1, nil
}

func (f *fakeMemory) Get(_ context.Context, key, index int) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.arrays[key][index], nil
}

func (f *fakeMemory) Set(_ context.Context, key, index int, value int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.modes[key] == wire.ReadOnly {
		return errReadOnly
	}
	f.arrays[key][index] = value
	return nil
}

func (f *fakeMemory) Lock(_ context.Context, key, blk int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.locks[[2]int{key, blk}]++
	return nil
}

func (f *fakeMemory) Unlock(_ context.Context, key, blk int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unlocks[[2]int{key, blk}]++
	return nil
}

func (f *fakeMemory) ChangeMode(_ context.Context, key int, mode wire.Mode) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.modes[key] = mode
	return nil
}

func (f *fakeMemory) QuantumSize() int { return f.quantum }

func TestVector_Geometry(t *testing.T) {
	tests := []struct {
		n, quantum int
		blocks     int
	}{
		{16, 4, 4},
		{17, 4, 5},
		{3, 4, 1},
		{1, 1, 1},
	}

	for _, tt := range tests {
		v, err := New(context.Background(), newFakeMemory(tt.quantum), tt.n)
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		if v.Len() != tt.n {
			t.Errorf("Len() = %d, want %d", v.Len(), tt.n)
		}
		if v.Blocks() != tt.blocks {
			t.Errorf("n=%d q=%d: Blocks() = %d, want %d", tt.n, tt.quantum, v.Blocks(), tt.blocks)
		}
		if got := v.QuantumOf(tt.n - 1); got != tt.blocks-1 {
			t.Errorf("QuantumOf(last) = %d, want %d", got, tt.blocks-1)
		}
	}
}

func TestVector_KeysFollowCreationOrder(t *testing.T) {
	mem := newFakeMemory(4)
	for want := 0; want < 3; want++ {
		v, err := New(context.Background(), mem, 8)
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		if v.Key() != want {
			t.Errorf("Key() = %d, want %d", v.Key(), want)
		}
	}
}

func TestVector_AddLocksOwningBlock(t *testing.T) {
	mem := newFakeMemory(4)
	ctx := context.Background()
	v, _ := New(ctx, mem, 8)

	for i := 0; i < 3; i++ {
		if _, err := v.Add(ctx, 5, 2); err != nil {
			t.Fatalf("Add failed: %v", err)
		}
	}
	got, _ := v.Get(ctx, 5)
	if got != 6 {
		t.Errorf("Expected 6, got %d", got)
	}
	if mem.locks[[2]int{0, 1}] != 3 || mem.unlocks[[2]int{0, 1}] != 3 {
		t.Errorf("Expected 3 lock/unlock pairs on block 1, got %v / %v", mem.locks, mem.unlocks)
	}
}

func TestVector_AddUnlocksOnFailure(t *testing.T) {
	mem := newFakeMemory(4)
	ctx := context.Background()
	v, _ := New(ctx, mem, 8)
	if err := v.ChangeMode(ctx, wire.ReadOnly); err != nil {
		t.Fatalf("ChangeMode failed: %v", err)
	}

	if _, err := v.Add(ctx, 0, 1); !errors.Is(err, errReadOnly) {
		t.Errorf("Expected errReadOnly, got %v", err)
	}
	if mem.unlocks[[2]int{0, 0}] != 1 {
		t.Error("Expected the block lock to be released")
	}
}
