package sample

import (
	"context"
	"fmt"
	"log"

	"dsm/internal/array"
	"dsm/internal/node"
	"dsm/internal/reduce"
	"dsm/internal/wire"
)

const (
	dispatcherRank = 1
	slotWidth      = 4
	stopMark       = -1
)

// task asks for C(I, J) += A(I, K) * B(J, K)^T.
type task struct {
	I, J, K int
}

// queue hands tasks to executors through one shared slot per executor.
type queue struct {
	slots *array.Vector
}

func (q *queue) put(ctx context.Context, executor int, t task, stop bool) error {
	base := (executor - dispatcherRank - 1) * slotWidth
	vals := [slotWidth]int64{int64(t.I), int64(t.J), int64(t.K), 0}
	if stop {
		vals[3] = stopMark
	}
	for i, v := range vals {
		if err := q.slots.Set(ctx, base+i, v); err != nil {
			return err
		}
	}
	return nil
}

func (q *queue) take(ctx context.Context, executor int) (task, bool, error) {
	base := (executor - dispatcherRank - 1) * slotWidth
	var vals [slotWidth]int64
	for i := range vals {
		v, err := q.slots.Get(ctx, base+i)
		if err != nil {
			return task{}, false, err
		}
		vals[i] = v
	}
	if vals[3] == stopMark {
		return task{}, true, nil
	}
	return task{I: int(vals[0]), J: int(vals[1]), K: int(vals[2])}, false, nil
}

// QueueMatMul multiplies with rank 1 dispatching block tasks to the other
// workers over Notify and Wait. With a single worker, rank 1 runs every
// task itself. It returns the checksum of C on rank 1.
func QueueMatMul(ctx context.Context, n *node.Node, msg reduce.Messenger, cfg MatMulConfig) (int64, error) {
	if cfg.Parts <= 0 || cfg.Size <= 0 || cfg.Size%cfg.Parts != 0 {
		return 0, fmt.Errorf("matrix size %d not divisible into %d parts", cfg.Size, cfg.Parts)
	}

	m, err := setup(ctx, n, cfg)
	if err != nil {
		return 0, err
	}
	executors := n.Size() - dispatcherRank - 1
	slots, err := array.New(ctx, n, max(executors, 1)*slotWidth)
	if err != nil {
		return 0, err
	}
	q := &queue{slots: slots}
	p := cfg.Size / cfg.Parts

	switch {
	case n.IsCoordinator():
	case n.Rank() == dispatcherRank:
		var tasks []task
		for i := 0; i < cfg.Parts; i++ {
			for j := 0; j < cfg.Parts; j++ {
				for k := 0; k < cfg.Parts; k++ {
					tasks = append(tasks, task{I: i, J: j, K: k})
				}
			}
		}
		if executors == 0 {
			for _, t := range tasks {
				if err := m.multiplyBlock(ctx, t.I, t.J, t.K, p); err != nil {
					return 0, err
				}
			}
			break
		}
		if err := dispatch(ctx, n, q, tasks, executors); err != nil {
			return 0, err
		}
	default:
		done := 0
		for {
			if _, err := n.Wait(ctx, dispatcherRank); err != nil {
				return 0, err
			}
			t, stop, err := q.take(ctx, n.Rank())
			if err != nil {
				return 0, err
			}
			if stop {
				break
			}
			if err := m.multiplyBlock(ctx, t.I, t.J, t.K, p); err != nil {
				return 0, err
			}
			done++
			if err := n.Notify(ctx, dispatcherRank); err != nil {
				return 0, err
			}
		}
		log.Printf("[rank %d] Executed %d tasks", n.Rank(), done)
	}
	return m.verify(ctx, n, msg, cfg)
}

// dispatch keeps every executor busy until tasks run out, then stops them.
func dispatch(ctx context.Context, n *node.Node, q *queue, tasks []task, executors int) error {
	working := 0
	for e := dispatcherRank + 1; e <= executors+dispatcherRank && len(tasks) > 0; e++ {
		if err := q.put(ctx, e, tasks[0], false); err != nil {
			return err
		}
		tasks = tasks[1:]
		if err := n.Notify(ctx, e); err != nil {
			return err
		}
		working++
	}
	for len(tasks) > 0 {
		from, err := n.Wait(ctx, wire.None)
		if err != nil {
			return err
		}
		if err := q.put(ctx, from, tasks[0], false); err != nil {
			return err
		}
		tasks = tasks[1:]
		if err := n.Notify(ctx, from); err != nil {
			return err
		}
	}
	for ; working > 0; working-- {
		if _, err := n.Wait(ctx, wire.None); err != nil {
			return err
		}
	}
	for e := dispatcherRank + 1; e <= executors+dispatcherRank; e++ {
		if err := q.put(ctx, e, task{}, true); err != nil {
			return err
		}
		if err := n.Notify(ctx, e); err != nil {
			return err
		}
	}
	return nil
}
