package edge

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("net/http.(*persistConn).readLoop"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).writeLoop"),
		goleak.IgnoreTopFunction("internal/poll.runtime_pollWait"),
		// leveldb keeps its memdb pool drainer alive for up to a second after Close.
		goleak.IgnoreTopFunction("github.com/syndtr/goleveldb/leveldb.(*DB).mpoolDrain"),
	)
}

var errUpstreamDown = errors.New("dial tcp: connection refused")

// fakeSource is a RuleSource with scripted results.
type fakeSource struct {
	mu    sync.Mutex
	rules []RedirectRule
	err   error
	gate  chan struct{}
	calls atomic.Int32
}

func (f *fakeSource) FetchRedirects(ctx context.Context) ([]RedirectRule, error) {
	f.calls.Add(1)
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	out := make([]RedirectRule, len(f.rules))
	copy(out, f.rules)
	return out, nil
}

func (f *fakeSource) set(rules []RedirectRule, err error) {
	f.mu.Lock()
	f.rules, f.err = rules, err
	f.mu.Unlock()
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock { return &fakeClock{t: time.Unix(0, 0)} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Set(d time.Duration) {
	c.mu.Lock()
	c.t = time.Unix(0, 0).Add(d)
	c.mu.Unlock()
}
