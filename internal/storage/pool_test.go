package storage

import "testing"

func TestPool_GrowsByDoubling(t *testing.T) {
	p := NewPool(3, 2)

	bufs := make([][]int64, 0, 7)
	for i := 0; i < 7; i++ {
		bufs = append(bufs, p.Get())
	}
	// 2 + 4 + 8
	if p.Capacity() != 14 {
		t.Errorf("Expected capacity 14, got %d", p.Capacity())
	}
	if p.InUse() != 7 {
		t.Errorf("Expected 7 in use, got %d", p.InUse())
	}

	bufs[0][2] = 9
	bufs[1][0] = 1
	if bufs[1][0] == bufs[0][2] || len(bufs[0]) != 3 {
		t.Error("Expected distinct buffers of 3 elements")
	}

	// appending must not spill into the neighbouring buffer
	grown := append(bufs[0], 42)
	if bufs[1][0] != 1 || len(grown) != 4 {
		t.Error("Expected buffers to have capacity limited to their size")
	}

	for _, b := range bufs {
		p.Put(b)
	}
	if p.InUse() != 0 {
		t.Errorf("Expected 0 in use, got %d", p.InUse())
	}
}

func TestPool_PutClears(t *testing.T) {
	p := NewPool(2, 1)
	b := p.Get()
	b[0], b[1] = 7, 8
	p.Put(b)

	again := p.Get()
	if again[0] != 0 || again[1] != 0 {
		t.Errorf("Expected zeroed buffer, got %v", again)
	}
	if p.Capacity() != 1 {
		t.Errorf("Expected reuse without growth, capacity %d", p.Capacity())
	}

	p.Put(nil)
	if p.InUse() != 1 {
		t.Errorf("Expected Put(nil) to be ignored, %d in use", p.InUse())
	}
}
