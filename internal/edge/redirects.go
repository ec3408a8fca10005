package edge

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// RedirectRule maps one exact request path to another.
type RedirectRule struct {
	From      string `json:"from"`
	To        string `json:"to"`
	Permanent bool   `json:"permanent"`
}

// UnmarshalJSON treats a missing "permanent" field as true, matching the
// content service's rule model.
func (r *RedirectRule) UnmarshalJSON(b []byte) error {
	var raw struct {
		From      string `json:"from"`
		To        string `json:"to"`
		Permanent *bool  `json:"permanent"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	r.From, r.To, r.Permanent = raw.From, raw.To, true
	if raw.Permanent != nil {
		r.Permanent = *raw.Permanent
	}
	return nil
}

// Status is the HTTP redirect code for the rule.
func (r RedirectRule) Status() int {
	if r.Permanent {
		return http.StatusPermanentRedirect
	}
	return http.StatusTemporaryRedirect
}

// RedirectTable is an immutable snapshot of the upstream rule set. A zero
// FetchedAt means the table was never refreshed in this process.
type RedirectTable struct {
	Rules     []RedirectRule
	FetchedAt time.Time
}

// Lookup returns the first rule whose From equals path exactly.
func (t *RedirectTable) Lookup(path string) (RedirectRule, bool) {
	if t == nil {
		return RedirectRule{}, false
	}
	for _, r := range t.Rules {
		if r.From == path {
			return r, true
		}
	}
	return RedirectRule{}, false
}

func (t *RedirectTable) fresh(now time.Time, ttl time.Duration) bool {
	return t != nil && len(t.Rules) > 0 && !t.FetchedAt.IsZero() && now.Sub(t.FetchedAt) < ttl
}

type ActionKind int

const (
	Forward ActionKind = iota
	Redirect
)

func (k ActionKind) String() string {
	if k == Redirect {
		return "redirect"
	}
	return "forward"
}

// Action is the decision for a single request path.
type Action struct {
	Kind     ActionKind
	Location string
	Status   int
}

type RefreshOutcome int

const (
	Unchanged RefreshOutcome = iota
	Refreshed
)

// RefreshResult reports what a refresh attempt did to the table. Err is set
// only for Unchanged results caused by a failed fetch.
type RefreshResult struct {
	Outcome RefreshOutcome
	Table   *RedirectTable
	Err     error
}

// RuleSource fetches the full redirect rule set.
type RuleSource interface {
	FetchRedirects(ctx context.Context) ([]RedirectRule, error)
}

type ResolverOptions struct {
	TTL          time.Duration
	SingleFlight bool
	Logger       *zap.Logger
	Stats        *statsCollector
	// OnRefresh runs after every successful refresh with the new table.
	OnRefresh func(*RedirectTable)
	// Now overrides the clock.
	Now func() time.Time
}

// Resolver decides whether a request path is forwarded or redirected, using
// a periodically refreshed table from a RuleSource.
type Resolver struct {
	src   RuleSource
	ttl   time.Duration
	now   func() time.Time
	log   *zap.Logger
	warn  *rateLimitedLogger
	stats *statsCollector

	onRefresh func(*RedirectTable)

	table atomic.Pointer[RedirectTable]

	singleFlight bool
	group        singleflight.Group
}

func NewResolver(src RuleSource, opts ResolverOptions) *Resolver {
	if opts.TTL <= 0 {
		opts.TTL = defaultRedirectTTL
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	r := &Resolver{
		src:          src,
		ttl:          opts.TTL,
		now:          opts.Now,
		log:          opts.Logger,
		warn:         newRateLimitedLogger(opts.Logger, time.Minute),
		stats:        opts.Stats,
		onRefresh:    opts.OnRefresh,
		singleFlight: opts.SingleFlight,
	}
	r.table.Store(&RedirectTable{})
	return r
}

// Seed installs rules without marking them fresh, so the next lookup still
// attempts a refresh and falls back to these rules if it fails.
func (r *Resolver) Seed(rules []RedirectRule) {
	r.table.Store(&RedirectTable{Rules: rules})
}

// Table returns the current snapshot.
func (r *Resolver) Table() *RedirectTable {
	return r.table.Load()
}

// IsBypassPath reports whether path skips redirect resolution: framework
// assets, API routes and anything that looks like a file.
func IsBypassPath(path string) bool {
	return strings.HasPrefix(path, "/_next") ||
		strings.HasPrefix(path, "/api") ||
		strings.Contains(path, ".")
}

// Resolve never fails: upstream errors degrade to the last known table.
func (r *Resolver) Resolve(ctx context.Context, path string) Action {
	if IsBypassPath(path) {
		r.stats.observeBypass()
		return Action{Kind: Forward}
	}

	t := r.ensureFresh(ctx)
	rule, ok := t.Lookup(path)
	if !ok {
		r.stats.observeForward()
		return Action{Kind: Forward}
	}
	r.stats.observeRedirect(rule.Permanent)
	return Action{Kind: Redirect, Location: rule.To, Status: rule.Status()}
}

func (r *Resolver) ensureFresh(ctx context.Context) *RedirectTable {
	cur := r.table.Load()
	if cur.fresh(r.now(), r.ttl) {
		return cur
	}

	res := r.refreshShared(ctx)
	if res.Outcome == Unchanged && res.Err != nil {
		r.warn.Warn("redirect refresh failed, serving last known table",
			zap.Error(res.Err),
			zap.Int("rules", len(res.Table.Rules)),
		)
	}
	return res.Table
}

func (r *Resolver) refreshShared(ctx context.Context) RefreshResult {
	if !r.singleFlight {
		return r.Refresh(ctx)
	}
	// The flight is shared, so one caller going away must not cancel it for
	// the others. The client timeout still bounds the fetch.
	flightCtx := context.WithoutCancel(ctx)
	v, _, _ := r.group.Do("redirects", func() (any, error) {
		// a flight that finished between our staleness check and Do
		if cur := r.table.Load(); cur.fresh(r.now(), r.ttl) {
			return RefreshResult{Outcome: Unchanged, Table: cur}, nil
		}
		return r.Refresh(flightCtx), nil
	})
	return v.(RefreshResult)
}

// Refresh fetches the rule set unconditionally. On failure the table and its
// timestamp are left untouched.
func (r *Resolver) Refresh(ctx context.Context) RefreshResult {
	now := r.now()
	rules, err := r.src.FetchRedirects(ctx)
	if err != nil {
		r.stats.observeRefresh(false)
		return RefreshResult{Outcome: Unchanged, Table: r.table.Load(), Err: err}
	}
	if rules == nil {
		rules = []RedirectRule{}
	}
	t := &RedirectTable{Rules: rules, FetchedAt: now}
	r.table.Store(t)
	r.stats.observeRefresh(true)
	r.log.Debug("redirect table refreshed", zap.Int("rules", len(rules)))

	if r.onRefresh != nil {
		r.onRefresh(t)
	}
	return RefreshResult{Outcome: Refreshed, Table: t}
}

// Middleware answers matching requests with a redirect and passes the rest
// to next. The original query string is carried over to relative targets
// that carry none of their own.
func (r *Resolver) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		act := r.Resolve(req.Context(), req.URL.Path)
		if act.Kind == Forward {
			next.ServeHTTP(w, req)
			return
		}
		http.Redirect(w, req, redirectLocation(req, act.Location), act.Status)
	})
}

func redirectLocation(req *http.Request, to string) string {
	if strings.HasPrefix(to, "http://") || strings.HasPrefix(to, "https://") || strings.Contains(to, "?") {
		return to
	}
	u := *req.URL
	u.Scheme, u.Host, u.User = "", "", nil
	u.Path, u.RawPath = to, ""
	return u.String()
}
