package sample

import "testing"

func TestExpectedMax(t *testing.T) {
	tests := []struct {
		step int
		want int64
		ok   bool
	}{
		{0, 0, false},
		{1, 2, true},
		{9, 10, true},
		{10, 10, true},
		{11, 12, true},
		{20, 20, true},
	}
	for _, tt := range tests {
		got, ok := expectedMax(tt.step)
		if ok != tt.ok || got != tt.want {
			t.Errorf("expectedMax(%d) = %d, %v; want %d, %v", tt.step, got, ok, tt.want, tt.ok)
		}
	}
}
