package observability

import (
	"sync/atomic"

	"github.com/danmuck/someipd/internal/protocol"
)

// Stats counts receive-path events in process memory.
type Stats struct {
	Bytes          atomic.Uint64
	Messages       atomic.Uint64
	Undelivered    atomic.Uint64
	Cookies        atomic.Uint64
	ResyncAttempts atomic.Uint64
	Resyncs        atomic.Uint64
	ResyncFailures atomic.Uint64
	DeliveryErrors atomic.Uint64
}

// StatsSnapshot is a point-in-time copy of Stats.
type StatsSnapshot struct {
	Bytes          uint64 `json:"bytes"`
	Messages       uint64 `json:"messages"`
	Undelivered    uint64 `json:"undelivered"`
	Cookies        uint64 `json:"magic_cookies"`
	ResyncAttempts uint64 `json:"resync_attempts"`
	Resynced       uint64 `json:"resynced"`
	ResyncFailures uint64 `json:"resync_failures"`
	DeliveryErrors uint64 `json:"delivery_errors"`
}

func NewStats() *Stats {
	return &Stats{}
}

func (s *Stats) BytesReceived(n int) {
	if n > 0 {
		s.Bytes.Add(uint64(n))
	}
}

func (s *Stats) MessageReceived(_ *protocol.Message, receivers int) {
	s.Messages.Add(1)
	if receivers == 0 {
		s.Undelivered.Add(1)
	}
}

func (s *Stats) CookieDropped()       { s.Cookies.Add(1) }
func (s *Stats) ResyncAttempted()     { s.ResyncAttempts.Add(1) }
func (s *Stats) Resynced()            { s.Resyncs.Add(1) }
func (s *Stats) ResyncFailed()        { s.ResyncFailures.Add(1) }
func (s *Stats) DeliveryFailed(error) { s.DeliveryErrors.Add(1) }

func (s *Stats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		Bytes:          s.Bytes.Load(),
		Messages:       s.Messages.Load(),
		Undelivered:    s.Undelivered.Load(),
		Cookies:        s.Cookies.Load(),
		ResyncAttempts: s.ResyncAttempts.Load(),
		Resynced:       s.Resyncs.Load(),
		ResyncFailures: s.ResyncFailures.Load(),
		DeliveryErrors: s.DeliveryErrors.Load(),
	}
}
