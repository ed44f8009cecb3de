package budget

import (
	"context"
	"sync"
	"time"
)

// MemoryLedger is an in-process spend tracker that resets at the day
// boundary. Used offline and in dry runs where no spend table exists.
type MemoryLedger struct {
	mu       sync.Mutex
	limit    float64
	used     float64
	day      string
	location *time.Location
	now      func() time.Time
}

// NewMemoryLedger creates a ledger against a daily limit
func NewMemoryLedger(limitUSD float64, loc *time.Location, now func() time.Time) *MemoryLedger {
	if loc == nil {
		loc = time.UTC
	}
	if now == nil {
		now = time.Now
	}
	l := &MemoryLedger{limit: limitUSD, location: loc, now: now}
	l.day = l.today()
	return l
}

func (l *MemoryLedger) today() string {
	return l.now().In(l.location).Format("2006-01-02")
}

func (l *MemoryLedger) roll() {
	if today := l.today(); today != l.day {
		l.day = today
		l.used = 0
	}
}

// Record adds cost to today's spend
func (l *MemoryLedger) Record(costUSD float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.roll()
	l.used += costUSD
}

// Status implements SpendTracker
func (l *MemoryLedger) Status(_ context.Context) (SpendStatus, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.roll()
	return StatusFor(l.used, l.limit), nil
}

// StatusFor derives a SpendStatus from used and limit amounts
func StatusFor(used, limit float64) SpendStatus {
	st := SpendStatus{UsedUSD: used, RemainingUSD: limit - used}
	if st.RemainingUSD < 0 {
		st.RemainingUSD = 0
	}
	if limit > 0 {
		st.PercentUsed = used / limit * 100
	}
	st.IsBlocked = limit <= 0 || used >= limit
	return st
}
