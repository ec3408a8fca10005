package edge

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"connectrpc.com/grpchealth"
	"go.uber.org/zap"
)

// HealthService is the name reported by the gRPC health endpoint.
const HealthService = "relvanta.edge.v1.Edge"

type Service struct {
	cfg Config
	log *zap.Logger

	content  *ContentClient
	resolver *Resolver
	snapshot *snapshotStore
	origin   http.Handler
	sitemap  *sitemapBuilder

	stats *statsCollector

	stopCh    chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

func NewService(cfg Config, log *zap.Logger) (*Service, error) {
	if log == nil {
		log = zap.NewNop()
	}
	origin, err := newOriginProxy(cfg.Server.Origin, log)
	if err != nil {
		return nil, err
	}

	s := &Service{
		cfg:    cfg,
		log:    log,
		origin: origin,
		stats:  newStatsCollector(),
		stopCh: make(chan struct{}),
	}
	s.content = NewContentClient(cfg.Content.APIURL, cfg.ContentTimeout(), cfg.Content.maxBytes, s.stats)

	opts := ResolverOptions{
		TTL:          cfg.RedirectTTL(),
		SingleFlight: cfg.Redirects.SingleFlight,
		Logger:       log.Named("redirects"),
		Stats:        s.stats,
	}
	if cfg.Redirects.SnapshotPath != "" {
		snap, err := openSnapshotStore(cfg.Redirects.SnapshotPath)
		if err != nil {
			return nil, err
		}
		s.snapshot = snap
		opts.OnRefresh = s.saveSnapshot
	}
	s.resolver = NewResolver(s.content, opts)
	if s.snapshot != nil {
		s.seedFromSnapshot()
	}

	s.sitemap = &sitemapBuilder{
		baseURL: cfg.Site.BaseURL,
		content: s.content,
		log:     log.Named("sitemap"),
		now:     time.Now,
	}

	if every := cfg.Logging.logStatsEveryDur; every > 0 {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.statsLoop(every)
		}()
	}

	return s, nil
}

// Close stops background loops and releases the snapshot store. It is safe
// to call more than once.
func (s *Service) Close() {
	s.closeOnce.Do(func() {
		close(s.stopCh)
		s.wg.Wait()
		if s.snapshot != nil {
			if err := s.snapshot.Close(); err != nil {
				s.log.Warn("close snapshot", zap.Error(err))
			}
		}
	})
}

// Resolver exposes the redirect resolver, mainly for the CLI.
func (s *Service) Resolver() *Resolver { return s.resolver }

func (s *Service) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.Handle(grpchealth.NewHandler(grpchealth.NewStaticChecker(HealthService)))
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("GET /robots.txt", robotsHandler(s.cfg.Site.BaseURL))
	mux.Handle("GET /sitemap.xml", s.sitemap)
	mux.Handle("/", s.resolver.Middleware(s.origin))

	var h http.Handler = mux
	h = securityHeaders(h)
	h = accessLog(s.log)(h)
	h = requestID(h)
	return h
}

func (s *Service) saveSnapshot(t *RedirectTable) {
	if err := s.snapshot.Save(t); err != nil {
		s.log.Warn("save redirect snapshot", zap.Error(err))
	}
}

func (s *Service) seedFromSnapshot() {
	rules, fetchedAt, err := s.snapshot.Load()
	if errors.Is(err, ErrSnapshotMissing) {
		return
	}
	if err != nil {
		s.log.Warn("load redirect snapshot", zap.Error(err))
		return
	}
	s.resolver.Seed(rules)
	fields := []zap.Field{zap.Int("rules", len(rules))}
	if fetchedAt != 0 {
		fields = append(fields, zap.Time("fetched_at", time.Unix(0, fetchedAt)))
	}
	s.log.Info("seeded redirects from snapshot", fields...)
}

// Warm performs one refresh so the first request does not pay for the fetch.
func (s *Service) Warm(ctx context.Context) RefreshResult {
	res := s.resolver.Refresh(ctx)
	if res.Err != nil {
		s.log.Warn("initial redirect fetch failed", zap.Error(res.Err))
	} else {
		s.log.Info("redirects loaded", zap.Int("rules", len(res.Table.Rules)))
	}
	return res
}

func (s *Service) statsLoop(every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-t.C:
			ss := s.stats.Snapshot()
			fields := []zap.Field{
				zap.Uint64("redirects_307", ss.TemporaryRedirects),
				zap.Uint64("redirects_308", ss.PermanentRedirects),
				zap.Uint64("forwards", ss.Forwards),
				zap.Uint64("bypasses", ss.Bypasses),
				zap.Uint64("refresh_ok", ss.RefreshOK),
				zap.Uint64("refresh_failed", ss.RefreshFailed),
				zap.String("upstream", formatBytes(ss.UpstreamBytes)),
				zap.Int("rules", len(s.resolver.Table().Rules)),
			}
			if rss, ok := processRSSBytes(); ok {
				fields = append(fields, zap.String("rss", formatBytes(rss)))
			}
			s.log.Info("stats", fields...)
		}
	}
}
