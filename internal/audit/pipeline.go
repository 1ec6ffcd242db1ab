package audit

import (
	"context"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/justbytes/evmsniper/internal/domain"
	"github.com/justbytes/evmsniper/internal/observability"
	"github.com/justbytes/evmsniper/internal/ratelimit"
	"github.com/justbytes/evmsniper/pkg/retrier"
)

// SecurityClient is the external security API as the pipeline sees it.
type SecurityClient interface {
	TokenSecurity(ctx context.Context, chainID uint64, token common.Address) (domain.TokenSecurity, error)
	Rugpull(ctx context.Context, chainID uint64, token common.Address) (domain.Rugpull, error)
}

type verdictJournal interface {
	Append(Record) error
}

// Publisher is where pass verdicts are republished as trade requests.
type Publisher interface {
	Publish(domain.Message)
}

// Config tunes the pipeline scheduler and retry behaviour.
type Config struct {
	// Tick is the scheduler interval.
	Tick time.Duration
	// MaxConcurrent bounds in-flight jobs. The bound is advisory: the shared
	// rate limiter enforces the true call budget.
	MaxConcurrent int
	// MaxAttempts bounds how often a single check is tried before the job
	// fails closed.
	MaxAttempts int
	// RetryDelay is the fixed delay between check attempts.
	RetryDelay time.Duration
}

// DefaultConfig returns the stock scheduler settings.
func DefaultConfig() Config {
	return Config{
		Tick:          time.Second,
		MaxConcurrent: 4,
		MaxAttempts:   12,
		RetryDelay:    10 * time.Second,
	}
}

type job struct {
	id              string
	candidate       domain.CandidatePair
	enqueuedAt      time.Time
	checksCompleted int
}

// Pipeline is the admission controller gating candidates through the
// security checks. Each candidate identity is processed at most once: a
// duplicate Enqueue while the first run is queued, in flight, or already
// decided is ignored.
type Pipeline struct {
	cfg     Config
	client  SecurityClient
	policy  Policy
	limiter *ratelimit.Limiter
	bus     Publisher
	journal verdictJournal
	metrics *observability.Metrics
	retry   *retrier.Retrier
	log     *zap.Logger

	mu      sync.Mutex
	queue   []*job
	queued  map[string]struct{}
	running map[string]struct{}
	decided map[string]struct{}

	wg sync.WaitGroup
}

// NewPipeline wires the audit admission controller.
func NewPipeline(cfg Config, client SecurityClient, policy Policy, limiter *ratelimit.Limiter,
	bus Publisher, journal verdictJournal, metrics *observability.Metrics, log *zap.Logger) *Pipeline {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.Tick <= 0 {
		cfg.Tick = time.Second
	}
	if cfg.MaxConcurrent < 1 {
		cfg.MaxConcurrent = 1
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}

	return &Pipeline{
		cfg:     cfg,
		client:  client,
		policy:  policy,
		limiter: limiter,
		bus:     bus,
		journal: journal,
		metrics: metrics,
		retry: retrier.New(
			retrier.WithFixedInterval(cfg.RetryDelay),
			retrier.WithMaxRetries(cfg.MaxAttempts-1),
			retrier.WithRetryIf(IsRetryable),
		),
		log:     log,
		queued:  make(map[string]struct{}),
		running: make(map[string]struct{}),
		decided: make(map[string]struct{}),
	}
}

// Enqueue adds a candidate to the audit queue. Duplicates of a candidate that
// is queued, running, or already decided are dropped.
func (p *Pipeline) Enqueue(c domain.CandidatePair) {
	key := c.Key()

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.queued[key]; ok {
		p.log.Debug("candidate already queued", zap.String("candidate", c.String()))
		return
	}
	if _, ok := p.running[key]; ok {
		p.log.Debug("candidate audit already running", zap.String("candidate", c.String()))
		return
	}
	if _, ok := p.decided[key]; ok {
		p.log.Debug("candidate already has a verdict", zap.String("candidate", c.String()))
		return
	}

	p.queued[key] = struct{}{}
	p.queue = append(p.queue, &job{
		id:         uuid.NewString(),
		candidate:  c,
		enqueuedAt: time.Now(),
	})
	p.metrics.SetQueueLength(len(p.queue))
	p.log.Info("candidate enqueued for audit",
		zap.String("candidate", c.String()),
		zap.Int("queue_length", len(p.queue)))
}

// Run drives the scheduler until ctx is cancelled, then waits for in-flight
// jobs to finish.
func (p *Pipeline) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.cfg.Tick)
	defer ticker.Stop()

	p.log.Info("audit pipeline started",
		zap.Duration("tick", p.cfg.Tick),
		zap.Int("max_concurrent", p.cfg.MaxConcurrent))

	for {
		select {
		case <-ctx.Done():
			p.log.Info("audit pipeline stopping, waiting for in-flight jobs")
			p.wg.Wait()
			return ctx.Err()
		case <-ticker.C:
			p.dispatch(ctx)
		}
	}
}

// dispatch starts eligible jobs. Admission requires the shared limiter to be
// open and a free concurrency slot; FIFO order is the scheduling preference.
func (p *Pipeline) dispatch(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for len(p.queue) > 0 && len(p.running) < p.cfg.MaxConcurrent {
		if !p.limiter.CanCall() {
			return
		}

		j := p.queue[0]
		p.queue = p.queue[1:]
		key := j.candidate.Key()
		delete(p.queued, key)
		p.running[key] = struct{}{}
		p.metrics.SetQueueLength(len(p.queue))

		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.process(ctx, j)
		}()
	}
}

// process runs the checks in fixed order, short-circuiting on the first
// failure, and emits exactly one verdict.
func (p *Pipeline) process(ctx context.Context, j *job) {
	key := j.candidate.Key()
	defer func() {
		p.mu.Lock()
		delete(p.running, key)
		p.decided[key] = struct{}{}
		p.mu.Unlock()
	}()

	log := p.log.With(zap.String("job_id", j.id), zap.String("candidate", j.candidate.String()))

	sec, err := retrier.DoWithData(p.retry, ctx, func(ctx context.Context) (domain.TokenSecurity, error) {
		return p.client.TokenSecurity(ctx, j.candidate.ChainID, j.candidate.Token)
	})
	if err != nil {
		// fail-closed: an unauditable token is never treated as safe
		p.fail(j, CheckTokenSecurity, []string{"check did not complete: " + err.Error()}, log)
		return
	}
	j.checksCompleted++

	if reasons := EvaluateTokenSecurity(sec, p.policy); len(reasons) > 0 {
		p.fail(j, CheckTokenSecurity, reasons, log)
		return
	}

	rug, err := retrier.DoWithData(p.retry, ctx, func(ctx context.Context) (domain.Rugpull, error) {
		return p.client.Rugpull(ctx, j.candidate.ChainID, j.candidate.Token)
	})
	if err != nil {
		p.fail(j, CheckRugpull, []string{"check did not complete: " + err.Error()}, log)
		return
	}
	j.checksCompleted++

	if reasons := EvaluateRugpull(rug); len(reasons) > 0 {
		p.fail(j, CheckRugpull, reasons, log)
		return
	}

	p.pass(j, sec, rug, log)
}

func (p *Pipeline) fail(j *job, check string, reasons []string, log *zap.Logger) {
	log.Info("audit verdict: fail",
		zap.String("check", check),
		zap.Strings("reasons", reasons))
	p.metrics.IncAudit("fail")
	p.metrics.IncCheckFailure(check)
	p.record(j, false, check, reasons, log)
}

func (p *Pipeline) pass(j *job, sec domain.TokenSecurity, rug domain.Rugpull, log *zap.Logger) {
	log.Info("audit verdict: pass", zap.Duration("queue_latency", time.Since(j.enqueuedAt)))
	p.metrics.IncAudit("pass")
	p.record(j, true, "", nil, log)

	candidate := j.candidate
	candidate.Report = &domain.SecurityReport{TokenSecurity: sec, Rugpull: rug}
	p.bus.Publish(domain.Message{Action: domain.ActionTrade, Candidate: candidate})
}

func (p *Pipeline) record(j *job, pass bool, check string, reasons []string, log *zap.Logger) {
	if p.journal == nil {
		return
	}
	rec := Record{
		JobID:           j.id,
		Candidate:       j.candidate.Key(),
		Chain:           j.candidate.Chain,
		Token:           j.candidate.Token.Hex(),
		Pass:            pass,
		FailedCheck:     check,
		Reasons:         reasons,
		ChecksCompleted: j.checksCompleted,
		EnqueuedAt:      j.enqueuedAt,
		DecidedAt:       time.Now(),
	}
	if err := p.journal.Append(rec); err != nil {
		log.Error("failed to journal audit verdict", zap.Error(err))
	}
}
