package media

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/rtp"
)

// Sink receives remote (interviewer) media packets.
type Sink interface {
	WriteRTP(pkt *rtp.Packet) error
	Close() error
}

// MeterSink discards media while keeping counters. It is the default sink a
// transport creates when the caller supplies none.
type MeterSink struct {
	mu      sync.Mutex
	packets int
	bytes   int
	last    time.Time
	closed  bool
}

func NewMeterSink() *MeterSink { return &MeterSink{} }

func (s *MeterSink) WriteRTP(pkt *rtp.Packet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || pkt == nil {
		return nil
	}
	s.packets++
	s.bytes += len(pkt.Payload)
	s.last = time.Now()
	return nil
}

func (s *MeterSink) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

type SinkStats struct {
	Packets  int
	Bytes    int
	LastSeen time.Time
	Closed   bool
}

func (s *MeterSink) Stats() SinkStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SinkStats{Packets: s.packets, Bytes: s.bytes, LastSeen: s.last, Closed: s.closed}
}

// FuncSink hands each packet to fn until closed.
type FuncSink struct {
	fn     func(pkt *rtp.Packet)
	closed atomic.Bool
}

func NewFuncSink(fn func(pkt *rtp.Packet)) *FuncSink {
	return &FuncSink{fn: fn}
}

func (s *FuncSink) WriteRTP(pkt *rtp.Packet) error {
	if s.closed.Load() || pkt == nil || s.fn == nil {
		return nil
	}
	s.fn(pkt)
	return nil
}

func (s *FuncSink) Close() error {
	s.closed.Store(true)
	return nil
}
