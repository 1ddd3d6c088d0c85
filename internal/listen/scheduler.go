// ABOUTME: Timestamp-based playback scheduler for received chunks
// ABOUTME: Orders decoded audio by play time, drops late chunks, releases due ones
package listen

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	// DefaultLateTolerance is how late a chunk may be before it is dropped
	DefaultLateTolerance = 50 * time.Millisecond

	schedulerTick = 10 * time.Millisecond
)

// Chunk is decoded audio with its local play time
type Chunk struct {
	PlayAt  time.Time
	Samples []float32
}

// Stats tracks scheduler metrics
type Stats struct {
	Received int64
	Played   int64
	Dropped  int64
}

// Scheduler releases chunks to a sink at their play time. Lead is how far
// ahead of the play time a chunk is released, to cover output latency.
type Scheduler struct {
	clock *ClockSync
	lead  time.Duration
	late  time.Duration
	sink  func(Chunk)

	mu    sync.Mutex
	queue chunkQueue
	stats Stats
}

// NewScheduler creates a scheduler. sink runs on the scheduler goroutine.
func NewScheduler(clock *ClockSync, lead time.Duration, sink func(Chunk)) *Scheduler {
	return &Scheduler{
		clock: clock,
		lead:  lead,
		late:  DefaultLateTolerance,
		sink:  sink,
	}
}

// Schedule queues samples stamped with a server timestamp
func (s *Scheduler) Schedule(serverMicros int64, samples []float32) {
	c := Chunk{PlayAt: s.clock.ServerToLocalTime(serverMicros), Samples: samples}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stats.Received < 3 {
		offset, rtt, _ := s.clock.Stats()
		log.Debug().
			Int64("timestamp", serverMicros).
			Dur("delay", time.Until(c.PlayAt)).
			Int64("offset_us", offset).
			Int64("rtt_us", rtt).
			Msg("scheduled chunk")
	}

	s.stats.Received++
	heap.Push(&s.queue, c)
}

// Clear drops every queued chunk
func (s *Scheduler) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats.Dropped += int64(len(s.queue))
	s.queue = s.queue[:0]
}

// Run releases chunks until ctx is cancelled
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(schedulerTick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			for _, c := range s.due(now) {
				s.sink(c)
			}
		}
	}
}

// due pops every chunk whose release time has come
func (s *Scheduler) due(now time.Time) []Chunk {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ready []Chunk
	for len(s.queue) > 0 {
		c := s.queue[0]
		delay := c.PlayAt.Sub(now) - s.lead

		if delay > schedulerTick {
			break
		}
		heap.Pop(&s.queue)
		if delay < -s.late {
			s.stats.Dropped++
			log.Debug().Dur("late", -delay).Msg("dropped late chunk")
			continue
		}
		s.stats.Played++
		ready = append(ready, c)
	}
	return ready
}

// Len returns the number of queued chunks
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Stats returns scheduler statistics
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// chunkQueue is a min-heap on play time
type chunkQueue []Chunk

func (q chunkQueue) Len() int           { return len(q) }
func (q chunkQueue) Less(i, j int) bool { return q[i].PlayAt.Before(q[j].PlayAt) }
func (q chunkQueue) Swap(i, j int)      { q[i], q[j] = q[j], q[i] }

func (q *chunkQueue) Push(x interface{}) { *q = append(*q, x.(Chunk)) }

func (q *chunkQueue) Pop() interface{} {
	old := *q
	n := len(old)
	item := old[n-1]
	*q = old[:n-1]
	return item
}
