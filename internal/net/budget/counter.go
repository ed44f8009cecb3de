package budget

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// MemoryCounter keeps premium call counts in process. Accurate only for a
// single running instance.
type MemoryCounter struct {
	mu     sync.Mutex
	counts map[string]int
}

// NewMemoryCounter creates an empty counter
func NewMemoryCounter() *MemoryCounter {
	return &MemoryCounter{counts: make(map[string]int)}
}

// Count returns the number of calls admitted on day
func (c *MemoryCounter) Count(_ context.Context, day string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[day], nil
}

// TryIncrement increments the count for day while it is below ceiling
func (c *MemoryCounter) TryIncrement(_ context.Context, day string, ceiling int) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.counts[day] >= ceiling {
		return false, nil
	}
	c.counts[day]++
	return true, nil
}

// Reset drops every day except today
func (c *MemoryCounter) Reset(today string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for day := range c.counts {
		if day != today {
			delete(c.counts, day)
		}
	}
}

// incrWithCeiling increments KEYS[1] only while it is below ARGV[1] and
// sets the expiry on the first increment of the day.
const incrWithCeiling = `
local current = tonumber(redis.call("GET", KEYS[1]) or "0")
if current >= tonumber(ARGV[1]) then
  return 0
end
local n = redis.call("INCR", KEYS[1])
if n == 1 then
  redis.call("EXPIRE", KEYS[1], ARGV[2])
end
return 1
`

// RedisCounter shares the premium cap across instances using an atomic
// increment-with-ceiling script.
type RedisCounter struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRedisCounter builds a counter on an existing client. Keys expire after
// two days so stale days clean themselves up.
func NewRedisCounter(client redis.UniversalClient, prefix string) *RedisCounter {
	return &RedisCounter{client: client, prefix: prefix, ttl: 48 * time.Hour}
}

func (c *RedisCounter) key(day string) string {
	return c.prefix + "premium:" + day
}

// Count reads the day's counter; a missing key counts as zero
func (c *RedisCounter) Count(ctx context.Context, day string) (int, error) {
	n, err := c.client.Get(ctx, c.key(day)).Int()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("redis premium counter get: %w", err)
	}
	return n, nil
}

// TryIncrement runs the ceiling script
func (c *RedisCounter) TryIncrement(ctx context.Context, day string, ceiling int) (bool, error) {
	res, err := c.client.Eval(ctx, incrWithCeiling, []string{c.key(day)}, ceiling, int(c.ttl.Seconds())).Int()
	if err != nil {
		return false, fmt.Errorf("redis premium counter increment: %w", err)
	}
	return res == 1, nil
}
