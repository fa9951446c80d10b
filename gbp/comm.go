package gbp

import (
	"fmt"
	"sync"
)

//Communicator is the collective reduction contract consumed in column-split
//mode. Every reduction is a blocking, all-workers collective: each worker of the
//group must invoke the same sequence of calls or the group deadlocks. A protocol
//violation is fatal for the whole group and is reported from every pending and
//subsequent call.
type Communicator interface {
	WorldSize() int
	Rank() int
	//AllReduceOr combines the local bit words with those of every other worker
	//by bitwise OR and writes the combined words back into local.
	AllReduceOr(local []uint64) error
	//AllReduceMaxInt returns the maximum of the local values across the group.
	AllReduceMaxInt(local int) (int, error)
}

//InMemoryGroup coordinates a worker group living inside one process, one
//goroutine per worker. It stands in for a networked communicator in tests and in
//single-process embedders while honoring the same blocking collective contract.
type InMemoryGroup struct {
	world int

	mu       sync.Mutex
	cond     *sync.Cond
	arrived  int
	draining bool
	gen      uint64
	failed   error

	orBuf  []uint64
	maxBuf int
	maxSet bool
}

//NewInMemoryGroup creates a group of worldSize workers.
func NewInMemoryGroup(worldSize int) *InMemoryGroup {
	group := &InMemoryGroup{world: worldSize}
	group.cond = sync.NewCond(&group.mu)
	return group
}

//Comm returns the communicator handle of one worker of the group.
func (group *InMemoryGroup) Comm(rank int) Communicator {
	return &inMemoryComm{group: group, rank: rank}
}

//round runs one collective: every worker folds its local value into the shared
//buffer, the last arrival opens the extraction phase, and the last extractor
//resets the buffers for the next round. A failed fold poisons the group.
func (group *InMemoryGroup) round(fold func() error, extract func()) error {
	group.mu.Lock()
	defer group.mu.Unlock()

	for group.draining && group.failed == nil {
		group.cond.Wait()
	}
	if group.failed != nil {
		return group.failed
	}

	if err := fold(); err != nil {
		group.failed = err
		group.cond.Broadcast()
		return err
	}

	group.arrived++
	gen := group.gen
	if group.arrived == group.world {
		group.draining = true
		group.gen++
		group.cond.Broadcast()
	} else {
		for gen == group.gen && group.failed == nil {
			group.cond.Wait()
		}
		if group.failed != nil {
			return group.failed
		}
	}

	extract()

	group.arrived--
	if group.arrived == 0 {
		group.draining = false
		group.orBuf = nil
		group.maxSet = false
		group.cond.Broadcast()
	}
	return nil
}

type inMemoryComm struct {
	group *InMemoryGroup
	rank  int
}

func (c *inMemoryComm) WorldSize() int { return c.group.world }
func (c *inMemoryComm) Rank() int      { return c.rank }

func (c *inMemoryComm) AllReduceOr(local []uint64) error {
	group := c.group
	return group.round(
		func() error {
			if group.orBuf == nil {
				group.orBuf = make([]uint64, len(local))
			}
			if len(group.orBuf) != len(local) {
				return fmt.Errorf("%w: rank %d reduces %d words, group started with %d", ErrGroupSizeMismatch, c.rank, len(local), len(group.orBuf))
			}
			for i, word := range local {
				group.orBuf[i] |= word
			}
			return nil
		},
		func() {
			copy(local, group.orBuf)
		},
	)
}

func (c *inMemoryComm) AllReduceMaxInt(local int) (int, error) {
	group := c.group
	result := local
	err := group.round(
		func() error {
			if !group.maxSet || local > group.maxBuf {
				group.maxBuf = local
			}
			group.maxSet = true
			return nil
		},
		func() {
			result = group.maxBuf
		},
	)
	return result, err
}
