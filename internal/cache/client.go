package cache

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// Options are the read defaults applied to every Query that does not set its own.
type Options struct {
	StaleTime      time.Duration
	Retry          int
	RetryDelay     time.Duration
	RefetchTimeout time.Duration
}

func DefaultOptions() Options {
	return Options{
		StaleTime:      30 * time.Second,
		Retry:          3,
		RetryDelay:     time.Second,
		RefetchTimeout: 30 * time.Second,
	}
}

// QueryClient owns the store, in-flight deduplication and the set of mounted
// queries. One QueryClient is created per process and injected where needed.
type QueryClient struct {
	store    *Store
	group    singleflight.Group
	defaults Options
	log      logrus.FieldLogger
	backend  Backend

	mu       sync.Mutex
	nextObs  int
	mounted  map[string]map[int]func(context.Context)
	onChange []func(Key)
}

func NewQueryClient(store *Store, opts Options, log logrus.FieldLogger) *QueryClient {
	if store == nil {
		store = NewStore()
	}
	def := DefaultOptions()
	if opts.StaleTime == 0 {
		opts.StaleTime = def.StaleTime
	}
	if opts.Retry == 0 {
		opts.Retry = def.Retry
	}
	if opts.RetryDelay == 0 {
		opts.RetryDelay = def.RetryDelay
	}
	if opts.RefetchTimeout == 0 {
		opts.RefetchTimeout = def.RefetchTimeout
	}
	if log == nil {
		l := logrus.New()
		l.SetLevel(logrus.PanicLevel)
		log = l
	}
	return &QueryClient{
		store:    store,
		defaults: opts,
		log:      log.WithField("component", "cache"),
		mounted:  make(map[string]map[int]func(context.Context)),
	}
}

// WithBackend attaches a shared second-level backend.
func (c *QueryClient) WithBackend(b Backend) *QueryClient {
	c.backend = b
	return c
}

func (c *QueryClient) Store() *Store { return c.store }

func (c *QueryClient) Stats() StatsSnapshot { return c.store.Stats() }

func (c *QueryClient) Log() logrus.FieldLogger { return c.log }

// OnInvalidate registers fn to be called for every key invalidated through
// this client, local or remote.
func (c *QueryClient) OnInvalidate(fn func(Key)) {
	c.mu.Lock()
	c.onChange = append(c.onChange, fn)
	c.mu.Unlock()
}

// mount records a mounted consumer of key together with the refetch it runs.
func (c *QueryClient) mount(key Key, refetch func(context.Context)) func() {
	id := key.String()
	c.mu.Lock()
	obs := c.nextObs
	c.nextObs++
	if c.mounted[id] == nil {
		c.mounted[id] = make(map[int]func(context.Context))
	}
	c.mounted[id][obs] = refetch
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.mounted[id], obs)
		if len(c.mounted[id]) == 0 {
			delete(c.mounted, id)
		}
	}
}

// refetcher returns one refetch for key if anything is mounted on it.
func (c *QueryClient) refetcher(key Key) func(context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, fn := range c.mounted[key.String()] {
		return fn
	}
	return nil
}

// InvalidateQueries marks every entry under the given prefixes stale, drops
// in-flight deduplication for them and refetches each mounted key exactly
// once. It returns after those refetches finish. The invalidation is
// broadcast through the backend when one is attached.
func (c *QueryClient) InvalidateQueries(ctx context.Context, prefixes ...Key) error {
	refetches := c.mark(prefixes)
	c.broadcast(ctx, prefixes)
	return c.refetch(ctx, refetches)
}

// InvalidateInBackground marks and broadcasts like InvalidateQueries but
// returns as soon as the keys are stale. The refetches run on their own
// goroutine bounded by RefetchTimeout, so a slow remote never holds up the
// caller.
func (c *QueryClient) InvalidateInBackground(ctx context.Context, prefixes ...Key) {
	refetches := c.mark(prefixes)
	c.broadcast(ctx, prefixes)
	if len(refetches) == 0 {
		return
	}
	bg, cancel := c.detached(ctx)
	go func() {
		defer cancel()
		if err := c.refetch(bg, refetches); err != nil {
			c.log.WithError(err).Warn("background refetch failed")
		}
	}()
}

func (c *QueryClient) invalidate(ctx context.Context, prefixes []Key) error {
	return c.refetch(ctx, c.mark(prefixes))
}

func (c *QueryClient) broadcast(ctx context.Context, prefixes []Key) {
	if c.backend == nil || len(prefixes) == 0 {
		return
	}
	if err := c.backend.Invalidate(ctx, prefixes); err != nil {
		c.log.WithError(err).Warn("broadcast invalidation failed")
	}
}

// mark invalidates the prefixes and returns one refetch per mounted key.
func (c *QueryClient) mark(prefixes []Key) []func(context.Context) {
	seen := make(map[string]Key)
	for _, p := range prefixes {
		for _, k := range c.store.Invalidate(p) {
			seen[k.String()] = k
		}
	}

	c.mu.Lock()
	listeners := append([]func(Key){}, c.onChange...)
	c.mu.Unlock()
	for _, p := range prefixes {
		for _, fn := range listeners {
			fn(p)
		}
	}

	var out []func(context.Context)
	for id, k := range seen {
		c.group.Forget(id)
		if fn := c.refetcher(k); fn != nil {
			out = append(out, fn)
		}
	}
	return out
}

func (c *QueryClient) refetch(ctx context.Context, refetches []func(context.Context)) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, fn := range refetches {
		fn := fn
		c.store.stats.refetches.Add(1)
		g.Go(func() error {
			fn(gctx)
			return nil
		})
	}
	return g.Wait()
}

// Listen applies invalidations broadcast by other processes until ctx ends.
func (c *QueryClient) Listen(ctx context.Context) error {
	if c.backend == nil {
		<-ctx.Done()
		return nil
	}
	return c.backend.Listen(ctx, func(prefixes []Key) {
		c.log.WithField("keys", len(prefixes)).Debug("remote invalidation")
		if err := c.invalidate(ctx, prefixes); err != nil {
			c.log.WithError(err).Warn("remote invalidation refetch failed")
		}
	})
}

// Set writes value into the store directly, as realtime merges do.
func (c *QueryClient) Set(key Key, value interface{}) {
	c.store.Set(key, value)
}

// detached returns a context for background work that outlives the request
// that triggered it.
func (c *QueryClient) detached(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), c.defaults.RefetchTimeout)
}
