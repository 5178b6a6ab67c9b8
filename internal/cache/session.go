package cache

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"electrumbatch/internal/jsonrpc"
	"electrumbatch/internal/metrics"
	"electrumbatch/internal/session"
)

// CachingSession wraps a session and answers cacheable requests locally.
// Only the misses of a batch go over the wire; responses stay aligned with the
// requests as added.
type CachingSession struct {
	inner  session.Session
	cache  Cache
	rules  *Rules
	logger zerolog.Logger
}

// NewCachingSession creates a new CachingSession
func NewCachingSession(inner session.Session, c Cache, rules *Rules, logger zerolog.Logger) *CachingSession {
	return &CachingSession{
		inner:  inner,
		cache:  c,
		rules:  rules,
		logger: logger.With().Str("component", "cache").Str("backend", c.Name()).Logger(),
	}
}

// Start implements session.Session
func (s *CachingSession) Start(ctx context.Context) error {
	return s.inner.Start(ctx)
}

// Stop stops the inner session and closes the cache
func (s *CachingSession) Stop() error {
	return errors.Join(s.inner.Stop(), s.cache.Close())
}

// IsConnected implements session.Session
func (s *CachingSession) IsConnected() bool {
	return s.inner.IsConnected()
}

// SendBatch implements session.Session
func (s *CachingSession) SendBatch(raiseErrors bool) session.Batch {
	return &cachingBatch{session: s, raise: raiseErrors}
}

type cachedCall struct {
	method string
	params []any
	key    string
}

type cachingBatch struct {
	session *CachingSession
	raise   bool
	calls   []cachedCall
}

func (b *cachingBatch) AddRequest(method string, params []any) {
	c := cachedCall{method: method, params: params}
	if b.session.rules.IsCacheable(method) {
		c.key = GenerateCacheKey(method, params)
	}
	b.calls = append(b.calls, c)
}

func (b *cachingBatch) Len() int {
	return len(b.calls)
}

func (b *cachingBatch) Commit(ctx context.Context) ([]*jsonrpc.Response, error) {
	s := b.session
	responses := make([]*jsonrpc.Response, len(b.calls))
	backend := s.cache.Name()

	// positions in b.calls of the requests sent to the server
	var misses []int
	for i, c := range b.calls {
		if c.key != "" {
			if data, ok := s.cache.Get(ctx, c.key); ok {
				metrics.CacheHits.WithLabelValues(backend).Inc()
				responses[i] = jsonrpc.NewResponseRaw(jsonrpc.ID{}, data)
				continue
			}
			metrics.CacheMisses.WithLabelValues(backend).Inc()
		}
		misses = append(misses, i)
	}

	if len(misses) == 0 {
		s.logger.Debug().Int("size", len(b.calls)).Msg("batch served from cache")
		return responses, nil
	}

	inner := s.inner.SendBatch(b.raise)
	for _, i := range misses {
		inner.AddRequest(b.calls[i].method, b.calls[i].params)
	}

	fetched, err := inner.Commit(ctx)
	if err != nil {
		var be *session.BatchError
		if errors.As(err, &be) {
			for j, resp := range be.Partial {
				if j < len(misses) && resp != nil {
					responses[misses[j]] = resp
				}
			}
			return nil, &session.BatchError{Err: be.Err, Partial: responses}
		}
		return nil, &session.BatchError{Err: err, Partial: responses}
	}

	if len(fetched) != len(misses) {
		return nil, &session.BatchError{
			Err:     errors.New("response count does not match request count"),
			Partial: responses,
		}
	}

	for j, resp := range fetched {
		i := misses[j]
		responses[i] = resp
		if b.calls[i].key != "" && resp != nil && !resp.HasError() && !resp.ResultIsNull() {
			s.cache.Set(ctx, b.calls[i].key, resp.Result)
		}
	}

	return responses, nil
}
