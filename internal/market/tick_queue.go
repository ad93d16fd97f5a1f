package market

import (
	"context"
	"sync"

	"weexagent/internal/logger"
)

// TickQueue 是行情接收协程与策略评估协程之间的有界通道。
// Push 在队列满时阻塞而不是丢弃，保证按到达顺序、至多一次地交付。
type TickQueue struct {
	ch        chan Tick
	startOnce sync.Once
}

func NewTickQueue(buffer int) *TickQueue {
	if buffer <= 0 {
		buffer = 1
	}
	return &TickQueue{ch: make(chan Tick, buffer)}
}

func (q *TickQueue) Push(ctx context.Context, t Tick) error {
	select {
	case q.ch <- t:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Len reports how many ticks are waiting for the consumer.
func (q *TickQueue) Len() int {
	return len(q.ch)
}

// Run drains the queue on the calling goroutine until ctx is cancelled.
// Only the first call consumes; later calls return immediately.
func (q *TickQueue) Run(ctx context.Context, handle func(context.Context, Tick)) error {
	started := false
	q.startOnce.Do(func() { started = true })
	if !started {
		logger.Warnf("[ticks] consumer already running")
		return nil
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case t := <-q.ch:
			handle(ctx, t)
		}
	}
}
