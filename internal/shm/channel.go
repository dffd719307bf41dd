package shm

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync/atomic"

	"quantcore/internal/types"
)

// ErrNoFrame is returned by a consumer attached to a channel into which
// nothing has been published yet.
var ErrNoFrame = errors.New("shm: no frame published yet")

// defaultReadAttempts bounds the retry loop in Read. A retry is only needed
// while a write is in flight, so a handful of attempts is plenty.
const defaultReadAttempts = 4

// Frame is one decoded channel frame. Payload is a copy owned by the caller.
type Frame struct {
	Seq     uint64
	Payload []byte
}

// Producer is the single writing endpoint of a channel. It owns the region
// and must not be shared between goroutines: the lock-free protocol depends
// on there being exactly one writer.
type Producer struct {
	region  *Region
	seq     uint64
	metrics frameMetrics
}

// frameMetrics is the subset of the metrics collector the channel needs.
// A nil implementation is valid.
type frameMetrics interface {
	FramePublished()
	FrameRead()
	FrameTorn()
}

// nopMetrics satisfies frameMetrics when no collector is wired.
type nopMetrics struct{}

func (nopMetrics) FramePublished() {}
func (nopMetrics) FrameRead()      {}
func (nopMetrics) FrameTorn()      {}

// NewProducer creates the named region and returns its writing endpoint.
func NewProducer(dir, name string, capacity int, m frameMetrics) (*Producer, error) {
	region, err := CreateRegion(dir, name, capacity)
	if err != nil {
		return nil, err
	}
	if m == nil {
		m = nopMetrics{}
	}
	return &Producer{
		region:  region,
		seq:     atomic.LoadUint64(region.seqHeadPtr()),
		metrics: m,
	}, nil
}

// Publish overwrites the channel's frame with payload under a new, strictly
// increasing sequence id and returns that id.
//
// Write order is fixed by the protocol: header sequence, then length and
// payload, then the trailing sequence copy. Consumers detect an overlapping
// read via the duplicated sequence (see Consumer.Read).
func (p *Producer) Publish(payload []byte) (uint64, error) {
	if p.region.data == nil {
		return 0, types.NewAppError(types.ErrCodeChannelClosed, "publish on closed channel", nil)
	}
	if len(payload) > p.region.capacity {
		return 0, types.NewAppError(types.ErrCodeFrameTooLarge,
			fmt.Sprintf("payload %d bytes exceeds channel capacity %d", len(payload), p.region.capacity), nil)
	}

	p.seq++
	data := p.region.data

	atomic.StoreUint64(p.region.seqHeadPtr(), p.seq)
	binary.LittleEndian.PutUint32(data[lenOff:], uint32(len(payload)))
	copy(data[payloadOff:payloadOff+len(payload)], payload)
	binary.LittleEndian.PutUint64(data[p.region.seqTailOff():], p.seq)

	p.metrics.FramePublished()
	return p.seq, nil
}

// LastSeq returns the sequence id of the most recently published frame.
func (p *Producer) LastSeq() uint64 {
	return p.seq
}

// Close detaches the producer endpoint from the region.
func (p *Producer) Close() error {
	return p.region.Detach()
}

// Consumer is the single reading endpoint of a channel. The endpoint itself
// is safe for concurrent use by multiple goroutines: each read copies into
// its own buffer, so one goroutine's accepted frame can never be overwritten
// by another's read of a newer frame.
type Consumer struct {
	region  *Region
	metrics frameMetrics
}

// NewConsumer attaches to an existing named region. It fails closed with
// channel_not_found when no producer has created the region yet.
func NewConsumer(dir, name string, m frameMetrics) (*Consumer, error) {
	region, err := AttachRegion(dir, name)
	if err != nil {
		return nil, err
	}
	if m == nil {
		m = nopMetrics{}
	}
	return &Consumer{
		region:  region,
		metrics: m,
	}, nil
}

// Latest performs a single read attempt of the most recent frame.
//
// The read protocol: load the header sequence, copy length and payload, load
// the trailing sequence, then re-load the header. The frame is accepted only
// when all three sequence observations agree; any disagreement means the
// payload was overwritten mid-read and must be discarded (frame_torn), never
// interpreted as valid data. Repeated reads with no intervening write return
// the same frame.
func (c *Consumer) Latest() (Frame, error) {
	if c.region.data == nil {
		return Frame{}, types.NewAppError(types.ErrCodeChannelClosed, "read on closed channel", nil)
	}
	data := c.region.data

	h1 := atomic.LoadUint64(c.region.seqHeadPtr())
	if h1 == 0 {
		return Frame{}, ErrNoFrame
	}

	length := int(binary.LittleEndian.Uint32(data[lenOff:]))
	var payload []byte
	if length <= c.region.capacity {
		payload = make([]byte, length)
		copy(payload, data[payloadOff:payloadOff+length])
	}

	tail := binary.LittleEndian.Uint64(data[c.region.seqTailOff():])
	h2 := atomic.LoadUint64(c.region.seqHeadPtr())

	if h1 != tail || h1 != h2 || length > c.region.capacity {
		c.metrics.FrameTorn()
		return Frame{}, types.NewAppError(types.ErrCodeFrameTorn,
			fmt.Sprintf("frame torn by concurrent write (header=%d trailer=%d recheck=%d)", h1, tail, h2), nil)
	}

	c.metrics.FrameRead()
	return Frame{Seq: h1, Payload: payload}, nil
}

// Read returns the most recent frame, retrying a bounded number of times when
// a read is torn by a concurrent write. A torn frame is recoverable; only
// exhausting the retry budget surfaces the frame_torn error to the caller.
func (c *Consumer) Read() (Frame, error) {
	var lastErr error
	for attempt := 0; attempt < defaultReadAttempts; attempt++ {
		frame, err := c.Latest()
		if err == nil || errors.Is(err, ErrNoFrame) {
			return frame, err
		}
		lastErr = err
	}
	return Frame{}, lastErr
}

// Close detaches the consumer endpoint from the region.
func (c *Consumer) Close() error {
	return c.region.Detach()
}
