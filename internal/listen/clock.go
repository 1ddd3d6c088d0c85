// ABOUTME: Clock synchronization with a broadcast server
// ABOUTME: Tracks offset and drift so server timestamps map to local wall time
package listen

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	maxSyncRTT      = 100 * time.Millisecond
	degradedSyncRTT = 50 * time.Millisecond
	maxResidual     = 50 * time.Millisecond
	syncStaleAfter  = 5 * time.Second
)

// Quality represents sync quality
type Quality int

const (
	QualityGood Quality = iota
	QualityDegraded
	QualityLost
)

func (q Quality) String() string {
	switch q {
	case QualityGood:
		return "good"
	case QualityDegraded:
		return "degraded"
	default:
		return "lost"
	}
}

// ClockSync estimates the server clock from client/time exchanges
type ClockSync struct {
	mu             sync.RWMutex
	offset         int64   // µs, server - client
	drift          float64 // µs of offset change per client µs
	rtt            int64
	quality        Quality
	lastSync       time.Time
	lastSyncMicros int64 // client time of the last accepted sample
	sampleCount    int
	smoothing      float64
}

// NewClockSync creates an unsynchronised clock
func NewClockSync() *ClockSync {
	return &ClockSync{
		smoothing: 0.1,
		quality:   QualityLost,
	}
}

// ClientMicros is the local clock in Unix microseconds
func ClientMicros() int64 {
	return time.Now().UnixMicro()
}

// ProcessSyncResponse folds one exchange into the estimate. t1 and t4 are
// client send and receive times, t2 and t3 the server's receive and send.
func (cs *ClockSync) ProcessSyncResponse(t1, t2, t3, t4 int64) {
	rtt, measured := calculateOffset(t1, t2, t3, t4)

	cs.mu.Lock()
	defer cs.mu.Unlock()

	cs.rtt = rtt
	cs.lastSync = time.Now()

	if rtt > maxSyncRTT.Microseconds() {
		log.Debug().Int64("rtt_us", rtt).Msg("discarding sync sample: high RTT")
		return
	}

	switch cs.sampleCount {
	case 0:
		cs.offset = measured
		cs.lastSyncMicros = t4
		cs.sampleCount++
		cs.quality = cs.qualityFor(rtt)
		log.Debug().Int64("offset_us", cs.offset).Int64("rtt_us", rtt).Msg("initial clock sync")
		return
	case 1:
		if dt := float64(t4 - cs.lastSyncMicros); dt > 0 {
			cs.drift = float64(measured-cs.offset) / dt
		}
		cs.offset = measured
		cs.lastSyncMicros = t4
		cs.sampleCount++
		cs.quality = cs.qualityFor(rtt)
		return
	}

	dt := float64(t4 - cs.lastSyncMicros)
	if dt <= 0 {
		log.Debug().Msg("discarding sync sample: non-monotonic time")
		return
	}

	predicted := cs.offset + int64(cs.drift*dt)
	residual := measured - predicted
	if residual > maxResidual.Microseconds() || residual < -maxResidual.Microseconds() {
		log.Debug().Int64("residual_us", residual).Msg("discarding sync sample: clock jump")
		return
	}

	// fixed-gain filter on offset and drift
	cs.offset = predicted + int64(cs.smoothing*float64(residual))
	cs.drift += cs.smoothing * float64(residual) / dt
	cs.lastSyncMicros = t4
	cs.sampleCount++
	cs.quality = cs.qualityFor(rtt)
}

func (cs *ClockSync) qualityFor(rtt int64) Quality {
	if rtt < degradedSyncRTT.Microseconds() {
		return QualityGood
	}
	return QualityDegraded
}

func calculateOffset(t1, t2, t3, t4 int64) (rtt, offset int64) {
	rtt = (t4 - t1) - (t3 - t2)
	offset = ((t2 - t1) + (t3 - t4)) / 2
	return
}

// Synced reports whether at least one sample was accepted
func (cs *ClockSync) Synced() bool {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return cs.sampleCount > 0
}

// Stats returns the current offset, round trip and quality
func (cs *ClockSync) Stats() (offset, rtt int64, quality Quality) {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return cs.offset, cs.rtt, cs.quality
}

// CheckQuality marks the sync lost when no sample arrived recently
func (cs *ClockSync) CheckQuality() Quality {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if time.Since(cs.lastSync) > syncStaleAfter {
		cs.quality = QualityLost
	}
	return cs.quality
}

// ServerToLocalTime converts a server timestamp to local wall time
func (cs *ClockSync) ServerToLocalTime(serverMicros int64) time.Time {
	cs.mu.RLock()
	defer cs.mu.RUnlock()

	if cs.sampleCount == 0 {
		return time.UnixMicro(serverMicros)
	}

	// server = client + offset + drift*(client - lastSync), solved for client
	client := (float64(serverMicros) - float64(cs.offset) + cs.drift*float64(cs.lastSyncMicros)) / (1 + cs.drift)
	return time.UnixMicro(int64(client))
}

// ServerNow returns the current time on the server clock in microseconds
func (cs *ClockSync) ServerNow() int64 {
	now := ClientMicros()

	cs.mu.RLock()
	defer cs.mu.RUnlock()

	if cs.sampleCount == 0 {
		return now
	}
	return now + cs.offset + int64(cs.drift*float64(now-cs.lastSyncMicros))
}
