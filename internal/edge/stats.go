package edge

import "sync/atomic"

// statsCollector counts resolver decisions and upstream traffic. All methods
// are safe on a nil receiver so components can run without stats.
type statsCollector struct {
	temporary     atomic.Uint64
	permanent     atomic.Uint64
	forwards      atomic.Uint64
	bypasses      atomic.Uint64
	refreshOK     atomic.Uint64
	refreshFailed atomic.Uint64
	upstreamBytes atomic.Uint64
}

func newStatsCollector() *statsCollector {
	return &statsCollector{}
}

func (s *statsCollector) observeRedirect(permanent bool) {
	if s == nil {
		return
	}
	if permanent {
		s.permanent.Add(1)
		return
	}
	s.temporary.Add(1)
}

func (s *statsCollector) observeForward() {
	if s != nil {
		s.forwards.Add(1)
	}
}

func (s *statsCollector) observeBypass() {
	if s != nil {
		s.bypasses.Add(1)
	}
}

func (s *statsCollector) observeRefresh(ok bool) {
	if s == nil {
		return
	}
	if ok {
		s.refreshOK.Add(1)
		return
	}
	s.refreshFailed.Add(1)
}

func (s *statsCollector) observeUpstreamBytes(n int) {
	if s == nil || n <= 0 {
		return
	}
	s.upstreamBytes.Add(uint64(n))
}

type statsSnapshot struct {
	TemporaryRedirects uint64
	PermanentRedirects uint64
	Forwards           uint64
	Bypasses           uint64
	RefreshOK          uint64
	RefreshFailed      uint64
	UpstreamBytes      uint64
}

func (s *statsCollector) Snapshot() statsSnapshot {
	if s == nil {
		return statsSnapshot{}
	}
	return statsSnapshot{
		TemporaryRedirects: s.temporary.Load(),
		PermanentRedirects: s.permanent.Load(),
		Forwards:           s.forwards.Load(),
		Bypasses:           s.bypasses.Load(),
		RefreshOK:          s.refreshOK.Load(),
		RefreshFailed:      s.refreshFailed.Load(),
		UpstreamBytes:      s.upstreamBytes.Load(),
	}
}
