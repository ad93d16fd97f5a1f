package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func testPolicy() RefreshPolicy {
	return RefreshPolicy{
		Interval:   5 * time.Minute,
		SettleMin:  2 * time.Second,
		SettleMax:  10 * time.Second,
		MinSpacing: time.Minute,
		Fallback:   15 * time.Minute,
	}
}

func TestRefreshPolicyDue(t *testing.T) {
	p := testPolicy()
	at := func(h, m, s int) time.Time { return time.Date(2024, 5, 1, h, m, s, 0, time.UTC) }

	cases := []struct {
		name    string
		now     time.Time
		last    time.Time
		due     bool
		trigger Trigger
	}{
		{"first run", at(14, 27, 0), time.Time{}, true, TriggerStartup},
		{"inside settle window", at(14, 30, 5), at(14, 25, 5), true, TriggerBoundary},
		{"too early after boundary", at(14, 30, 1), at(14, 25, 5), false, TriggerNone},
		{"too late after boundary", at(14, 30, 11), at(14, 25, 5), false, TriggerNone},
		{"same boundary already refreshed", at(14, 30, 9), at(14, 30, 3), false, TriggerNone},
		{"mid bar", at(14, 32, 0), at(14, 30, 5), false, TriggerNone},
		{"fallback", at(14, 47, 0), at(14, 31, 0), true, TriggerFallback},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			due, trig := p.Due(tc.now, tc.last)
			assert.Equal(t, tc.due, due)
			assert.Equal(t, tc.trigger, trig)
		})
	}
}
