// Package batch embeds many texts through a Provider with bounded
// concurrency, rate limiting and retries.
package batch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sethvargo/go-retry"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"report-rag/internal/embedding"
	"report-rag/internal/models"
)

type Options struct {
	BatchSize         int
	Concurrency       int
	RequestsPerSecond float64
	MaxAttempts       int
	BaseBackoff       time.Duration
	MaxBackoff        time.Duration
}

// Outcome is the result for one input text. Exactly one of Vector and Err is set.
type Outcome struct {
	Vector []float32
	Err    error
}

// GroupResult reports how a single group fared.
type GroupResult struct {
	Start    int
	Size     int
	Attempts int
	Err      error
}

type Orchestrator struct {
	provider embedding.Provider
	opts     Options
	limiter  *rate.Limiter
	observer func(GroupResult)
}

func New(provider embedding.Provider, opts Options) (*Orchestrator, error) {
	if provider == nil {
		return nil, fmt.Errorf("%w: embedding provider is required", models.ErrConfiguration)
	}
	if opts.BatchSize < 1 {
		return nil, fmt.Errorf("%w: batch size must be at least 1, got %d", models.ErrConfiguration, opts.BatchSize)
	}
	if opts.Concurrency == 0 {
		opts.Concurrency = 2
	}
	if opts.Concurrency < 1 {
		return nil, fmt.Errorf("%w: concurrency must be at least 1, got %d", models.ErrConfiguration, opts.Concurrency)
	}
	if opts.MaxAttempts == 0 {
		opts.MaxAttempts = 3
	}
	if opts.MaxAttempts < 1 {
		return nil, fmt.Errorf("%w: max attempts must be at least 1, got %d", models.ErrConfiguration, opts.MaxAttempts)
	}
	if opts.BaseBackoff <= 0 {
		opts.BaseBackoff = 500 * time.Millisecond
	}
	if opts.MaxBackoff < opts.BaseBackoff {
		opts.MaxBackoff = opts.BaseBackoff
	}
	if limit := provider.MaxBatchSize(); limit > 0 && opts.BatchSize > limit {
		opts.BatchSize = limit
	}

	o := &Orchestrator{provider: provider, opts: opts}
	if opts.RequestsPerSecond > 0 {
		o.limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 1)
	}
	return o, nil
}

// OnGroup registers a callback invoked once per finished group. It may be
// called from several goroutines at once.
func (o *Orchestrator) OnGroup(fn func(GroupResult)) {
	o.observer = fn
}

func (o *Orchestrator) Options() Options { return o.opts }

// Embed partitions texts into ordered groups and embeds them with at most
// Concurrency groups in flight. A failed group marks only its own texts as
// failed. Groups not yet started when ctx is cancelled report ctx's error.
func (o *Orchestrator) Embed(ctx context.Context, texts []string) []Outcome {
	outcomes := make([]Outcome, len(texts))
	if len(texts) == 0 {
		return outcomes
	}

	g := new(errgroup.Group)
	g.SetLimit(o.opts.Concurrency)

	for start := 0; start < len(texts); start += o.opts.BatchSize {
		end := min(start+o.opts.BatchSize, len(texts))
		if err := ctx.Err(); err != nil {
			fail(outcomes[start:end], err)
			continue
		}
		g.Go(func() error {
			vectors, attempts, err := o.embedGroup(ctx, texts[start:end])
			if err != nil {
				fail(outcomes[start:end], err)
			} else {
				for i, v := range vectors {
					outcomes[start+i] = Outcome{Vector: v}
				}
			}
			o.report(GroupResult{Start: start, Size: end - start, Attempts: attempts, Err: err})
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

func (o *Orchestrator) embedGroup(ctx context.Context, group []string) ([][]float32, int, error) {
	backoff := retry.NewExponential(o.opts.BaseBackoff)
	backoff = retry.WithCappedDuration(o.opts.MaxBackoff, backoff)
	backoff = retry.WithMaxRetries(uint64(o.opts.MaxAttempts-1), backoff)

	attempts := 0
	var vectors [][]float32
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempts++
		if o.limiter != nil {
			if err := o.limiter.Wait(ctx); err != nil {
				return err
			}
		}
		v, err := o.provider.Embed(ctx, group)
		if err != nil {
			if errors.Is(err, models.ErrTransientProvider) {
				log.Warn().Err(err).Int("attempt", attempts).Int("texts", len(group)).Msg("Transient embedding failure")
				return retry.RetryableError(err)
			}
			return err
		}
		if len(v) != len(group) {
			return fmt.Errorf("%w: provider returned %d vectors for %d texts",
				models.ErrPermanentProvider, len(v), len(group))
		}
		vectors = v
		return nil
	})
	if err != nil {
		return nil, attempts, err
	}
	return vectors, attempts, nil
}

func (o *Orchestrator) report(r GroupResult) {
	if o.observer != nil {
		o.observer(r)
	}
}

func fail(outcomes []Outcome, err error) {
	for i := range outcomes {
		outcomes[i] = Outcome{Err: err}
	}
}

// Vectors splits outcomes into vectors, the number of failed texts and the
// first error encountered.
func Vectors(outcomes []Outcome) ([][]float32, int, error) {
	vectors := make([][]float32, len(outcomes))
	failed := 0
	var first error
	for i, out := range outcomes {
		if out.Err != nil {
			failed++
			if first == nil {
				first = out.Err
			}
			continue
		}
		vectors[i] = out.Vector
	}
	return vectors, failed, first
}
