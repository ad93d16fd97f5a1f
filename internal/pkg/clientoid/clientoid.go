// Package clientoid generates client order ids that double as idempotency keys.
package clientoid

import (
	"fmt"
	"sync"
	"time"
)

const seqModulus = 100000

// Generator 产生形如 YYYYMMDDhhmmss + 毫秒(3) + 机器号(2) + 序号(5) 的 24 位 id。
// 同一毫秒内序号递增，跨毫秒归零；所有调用串行于同一把锁。
type Generator struct {
	mu        sync.Mutex
	machineID int
	lastMs    int64
	seq       int
	nowFn     func() time.Time
}

func NewGenerator(machineID int) *Generator {
	if machineID < 0 {
		machineID = -machineID
	}
	return &Generator{machineID: machineID % 100, lastMs: -1, nowFn: time.Now}
}

func (g *Generator) Next() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.nowFn()
	ms := now.UnixMilli()
	// 时钟回拨时沿用上一毫秒，保持非递减
	if ms < g.lastMs {
		ms = g.lastMs
	}
	if ms == g.lastMs {
		g.seq = (g.seq + 1) % seqModulus
	} else {
		g.seq = 0
		g.lastMs = ms
	}
	ts := time.UnixMilli(ms).UTC()
	return fmt.Sprintf("%s%03d%02d%05d", ts.Format("20060102150405"), ms%1000, g.machineID, g.seq)
}
