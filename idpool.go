package agenttrace

import (
	"encoding/hex"
	"sync"

	"github.com/google/uuid"
)

const spanIDLen = 16

// IDPool keeps a channel of pre-generated ids so span creation does not pay for
// entropy on the hot path. Get never blocks.
type IDPool struct {
	factory func() string
	ids     chan string
	stopCh  chan struct{}
	once    sync.Once
}

// NewIDPool creates a pool holding up to capacity ids and starts its refill goroutine.
func NewIDPool(capacity int, factory func() string) *IDPool {
	if capacity < 1 {
		capacity = 1
	}
	pool := &IDPool{
		ids:     make(chan string, capacity),
		factory: factory,
		stopCh:  make(chan struct{}),
	}
	go pool.refill()
	return pool
}

// Get returns a pooled id, or a freshly generated one when the pool is empty.
func (p *IDPool) Get() string {
	select {
	case id := <-p.ids:
		return id
	default:
		return p.factory()
	}
}

// refill keeps the pool topped up until Close.
func (p *IDPool) refill() {
	for {
		id := p.factory()
		select {
		case p.ids <- id:
		case <-p.stopCh:
			return
		}
	}
}

// Close stops the refill goroutine. Get keeps working afterwards.
func (p *IDPool) Close() {
	p.once.Do(func() { close(p.stopCh) })
}

// NewTraceID returns a random 32 hex character trace id.
func NewTraceID() string {
	id := uuid.New()
	return hex.EncodeToString(id[:])
}

// NewSpanID returns a random 16 hex character span id.
func NewSpanID() string {
	id := uuid.New()
	return hex.EncodeToString(id[:spanIDLen/2])
}
