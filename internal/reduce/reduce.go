// Package reduce combines one value per process along a binary tree.
package reduce

import (
	"context"
	"fmt"

	"dsm/internal/array"
	"dsm/internal/transport"
	"dsm/internal/wire"
)

// Messenger is the part of a transport a reduction uses.
type Messenger interface {
	Rank() int
	Send(ctx context.Context, to int, msg wire.Message) error
	Recv(ctx context.Context, ch wire.Channel, match transport.Match) (wire.Message, error)
}

// Func combines a received partial with the local one.
type Func func(received, local int64) int64

// Sum adds two partials.
func Sum(received, local int64) int64 { return received + local }

// Max keeps the larger partial.
func Max(received, local int64) int64 { return max(received, local) }

// Participants orders the ranks lo..hi with root first. root may lie outside
// the range.
func Participants(lo, hi, root int) []int {
	ranks := []int{root}
	for r := lo; r <= hi; r++ {
		if r != root {
			ranks = append(ranks, r)
		}
	}
	return ranks
}

// Tree reduces value across the ranks lo..hi and root. Every participant
// calls it; root gets the combined value, every other participant gets the
// partial it forwarded. Partials travel on the reduction channel, so Tree
// does not interfere with Notify and Wait.
func Tree(ctx context.Context, m Messenger, value int64, combine Func, lo, hi, root int) (int64, error) {
	ranks := Participants(lo, hi, root)
	pos := -1
	for i, r := range ranks {
		if r == m.Rank() {
			pos = i
			break
		}
	}
	if pos < 0 {
		return 0, fmt.Errorf("rank %d does not take part in reduction over %d..%d to %d", m.Rank(), lo, hi, root)
	}

	t := len(ranks)
	n := 1
	for n < t {
		n *= 2
	}

	acc := value
	for step := 1; step < n; step *= 2 {
		half := n / (2 * step)
		if pos*2*step < n {
			peer := pos + half
			if peer >= t {
				continue
			}
			msg, err := m.Recv(ctx, wire.ChannelReduce, transport.FromRank(ranks[peer]))
			if err != nil {
				return 0, fmt.Errorf("reduce: receive from rank %d: %w", ranks[peer], err)
			}
			acc = combine(msg.Target, acc)
			continue
		}
		dest := ranks[pos-half]
		if err := m.Send(ctx, dest, wire.Partial(acc)); err != nil {
			return 0, fmt.Errorf("reduce: send to rank %d: %w", dest, err)
		}
		break
	}
	return acc, nil
}

// Range folds the elements lo..hi-1 of v into identity.
func Range(ctx context.Context, v *array.Vector, lo, hi int, identity int64, combine Func) (int64, error) {
	if lo < 0 || hi > v.Len() || lo > hi {
		return 0, fmt.Errorf("range %d..%d of vector of %d", lo, hi, v.Len())
	}
	acc := identity
	for i := lo; i < hi; i++ {
		x, err := v.Get(ctx, i)
		if err != nil {
			return 0, err
		}
		acc = combine(x, acc)
	}
	return acc, nil
}
