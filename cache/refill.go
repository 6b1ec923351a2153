package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/ortelius/vulnlsp/metrics"
	"github.com/ortelius/vulnlsp/model"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// DefaultChunkSize is the number of purls sent to a backend in one request
const DefaultChunkSize = 100

// Source looks up vulnerabilities for a batch of purls. Results may come back in any order.
type Source interface {
	Name() string
	Lookup(ctx context.Context, purls []model.Purl) ([]model.VulnerabilityVersionInfo, error)
}

// RefillOptions tunes chunking and retries
type RefillOptions struct {
	ChunkSize  int
	MaxRetries uint64
	// NewBackOff builds the retry schedule of one chunk; defaults to exponential backoff
	NewBackOff func() backoff.BackOff
}

// Refiller fetches the missing keys of a cache from a Source
type Refiller struct {
	cache   *Vulnerabilities
	source  Source
	options RefillOptions
	logger  *zap.Logger
	metrics *metrics.Metrics

	mu       sync.Mutex
	inflight map[model.Purl]*pending
}

// pending is one in-flight fetch; err is set before done is closed
type pending struct {
	done    chan struct{}
	err     error
	waiters int
}

// NewRefiller creates a refiller for cache backed by source
func NewRefiller(c *Vulnerabilities, source Source, options RefillOptions, logger *zap.Logger, m *metrics.Metrics) *Refiller {
	if options.ChunkSize <= 0 {
		options.ChunkSize = DefaultChunkSize
	}
	if options.NewBackOff == nil {
		options.NewBackOff = func() backoff.BackOff { return backoff.NewExponentialBackOff() }
	}
	return &Refiller{
		cache:    c,
		source:   source,
		options:  options,
		logger:   logger,
		metrics:  m,
		inflight: make(map[model.Purl]*pending),
	}
}

// Cache returns the cache being refilled
func (r *Refiller) Cache() *Vulnerabilities {
	return r.cache
}

// Refill fetches every resolved key not yet cached. All chunks are requested concurrently;
// if any chunk fails nothing from this refill is committed and the error is returned.
// Keys already being fetched by a concurrent refill are waited for, not fetched again.
func (r *Refiller) Refill(ctx context.Context, keys []model.Purl) error {
	var resolved []model.Purl
	for _, key := range keys {
		if key.Resolved() {
			resolved = append(resolved, key)
		}
	}

	missing := r.cache.Missing(resolved)
	if len(missing) == 0 {
		return nil
	}

	claimed, waits, owned := r.claim(missing)
	if len(claimed) > 0 {
		owned.err = r.fetch(ctx, claimed)
		close(owned.done)
		r.release(claimed)
		if owned.err != nil {
			return owned.err
		}
	}

	// keys fetched by another refill are still missing when that fetch failed
	for _, wait := range waits {
		select {
		case <-wait.done:
			if wait.err != nil {
				return wait.err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// claim marks keys nobody is fetching as in flight and returns the pending fetches of the rest
func (r *Refiller) claim(keys []model.Purl) ([]model.Purl, []*pending, *pending) {
	r.mu.Lock()
	defer r.mu.Unlock()

	owned := &pending{done: make(chan struct{})}
	var claimed []model.Purl
	var waits []*pending
	waiting := make(map[*pending]bool)

	for _, key := range keys {
		if p, ok := r.inflight[key]; ok {
			if !waiting[p] {
				waiting[p] = true
				p.waiters++
				waits = append(waits, p)
			}
			continue
		}
		r.inflight[key] = owned
		claimed = append(claimed, key)
	}
	return claimed, waits, owned
}

func (r *Refiller) release(keys []model.Purl) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, key := range keys {
		delete(r.inflight, key)
	}
}

func (r *Refiller) fetch(ctx context.Context, keys []model.Purl) error {
	var chunks [][]model.Purl
	for i := 0; i < len(keys); i += r.options.ChunkSize {
		chunks = append(chunks, keys[i:min(i+r.options.ChunkSize, len(keys))])
	}

	results := make([][]model.VulnerabilityVersionInfo, len(chunks))
	g, gctx := errgroup.WithContext(ctx)

	for i, chunk := range chunks {
		g.Go(func() error {
			infos, err := r.lookup(gctx, chunk)
			if err != nil {
				return fmt.Errorf("chunk %d/%d: %w", i+1, len(chunks), err)
			}
			results[i] = infos
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		r.logger.Warn("Vulnerability refill failed",
			zap.String("backend", r.source.Name()), zap.Int("purls", len(keys)), zap.Error(err))
		return err
	}

	requested := make(map[model.Purl]bool, len(keys))
	for _, key := range keys {
		requested[key] = true
	}

	var values []model.VulnerabilityVersionInfo
	for _, infos := range results {
		for _, info := range infos {
			values = append(values, info)
			delete(requested, info.Purl)
		}
	}
	// purls the backend said nothing about are confirmed clean
	for _, key := range keys {
		if requested[key] {
			values = append(values, model.VulnerabilityVersionInfo{Purl: key, Vulnerabilities: []model.VulnerabilityInformation{}})
		}
	}

	r.cache.PutMany(values)
	r.logger.Debug("Vulnerability refill committed",
		zap.String("backend", r.source.Name()), zap.Int("purls", len(keys)), zap.Int("chunks", len(chunks)))
	return nil
}

// lookup requests one chunk, retrying with backoff
func (r *Refiller) lookup(ctx context.Context, chunk []model.Purl) ([]model.VulnerabilityVersionInfo, error) {
	bo := backoff.WithContext(backoff.WithMaxRetries(r.options.NewBackOff(), r.options.MaxRetries), ctx)

	var infos []model.VulnerabilityVersionInfo
	err := backoff.RetryNotify(func() error {
		start := time.Now()
		var err error
		infos, err = r.source.Lookup(ctx, chunk)
		r.metrics.BackendRequest(r.source.Name(), err, time.Since(start))
		return err
	}, bo, func(err error, wait time.Duration) {
		r.logger.Debug("Retrying vulnerability lookup",
			zap.String("backend", r.source.Name()), zap.Duration("wait", wait), zap.Error(err))
	})

	return infos, err
}
