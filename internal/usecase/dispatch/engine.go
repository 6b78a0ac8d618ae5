// Package dispatch fans a notification out to devices over every channel they opted into.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"notifyhub/internal/domain/entity"
	"notifyhub/internal/infra/notifier"
	"notifyhub/internal/observability/metrics"
	"notifyhub/internal/observability/tracing"
	"notifyhub/internal/repository"
	"notifyhub/internal/resilience/circuitbreaker"
	"notifyhub/internal/resilience/retry"
)

// outcomeMessageLimit bounds the error text stored on a failed outcome.
const outcomeMessageLimit = 1000

// OutcomeSink receives outcome records for persistence (normally the LogSink).
type OutcomeSink interface {
	EnqueueRange(ctx context.Context, records []*entity.DeliveryOutcome) error
}

// Options controls how a dispatch call records its outcomes.
type Options struct {
	// WriteLog sends outcomes to the sink. The retry reconciler turns it off
	// because it updates the existing record in place.
	WriteLog bool
	Source   entity.SourceKind
	JobID    *int64
}

// Result is the aggregate of one dispatch call.
type Result struct {
	Success        bool
	FailedChannels []entity.ChannelType
	Message        string
	TotalDevices   int
	Outcomes       []*entity.DeliveryOutcome
}

// Engine partitions devices by channel and tenant and sends them in batches.
// Each channel owns its own concurrency slots, so a slow provider cannot
// starve the others. Circuit breakers are kept per (channel, tenant).
type Engine struct {
	senders  notifier.Senders
	policies repository.PolicyRepository
	defaults map[entity.ChannelType]entity.ChannelPolicy
	sink     OutcomeSink
	breakers *circuitbreaker.Set
	logger   *slog.Logger
	now      func() time.Time

	mu       sync.Mutex
	slots    map[entity.ChannelType]*channelSlots
	limiters map[entity.ChannelType]*notifier.RateLimiter
	health   map[entity.ChannelType]*channelHealth
}

// channelSlots is one generation of a channel's concurrency limit. When the
// policy limit changes a new generation is created; it admits nobody until
// every holder and waiter of the previous one is gone, so the running count
// never exceeds the newer limit. held and retired are guarded by Engine.mu.
type channelSlots struct {
	limit   int
	sem     *semaphore.Weighted
	prev    *channelSlots
	held    int
	retired bool
	drained chan struct{}
}

type channelHealth struct {
	consecutiveFailures int
	lastFailureAt       time.Time
	lastError           string
}

// Option customizes an Engine.
type Option func(*Engine)

// WithDefaultPolicies replaces the built-in per-channel defaults (e.g. from a YAML file).
func WithDefaultPolicies(p map[entity.ChannelType]entity.ChannelPolicy) Option {
	return func(e *Engine) {
		for ch, pol := range p {
			e.defaults[ch] = pol
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates an Engine. policies and sink may be nil: built-in
// defaults are then used and outcomes are only returned, never persisted.
func NewEngine(senders notifier.Senders, policies repository.PolicyRepository, sink OutcomeSink, logger *slog.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{
		senders:  senders,
		policies: policies,
		defaults: make(map[entity.ChannelType]entity.ChannelPolicy, 4),
		sink:     sink,
		breakers: circuitbreaker.NewTenantSet(func(err error) bool { return !notifier.CountsAgainstProvider(err) }),
		logger:   logger,
		now:      time.Now,
		slots:    make(map[entity.ChannelType]*channelSlots, 4),
		limiters: make(map[entity.ChannelType]*notifier.RateLimiter, 4),
		health:   make(map[entity.ChannelType]*channelHealth, 4),
	}
	for _, ch := range entity.AllChannels() {
		e.defaults[ch] = entity.DefaultPolicy(ch)
		e.health[ch] = &channelHealth{}
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// collector gathers batch results from concurrent goroutines.
type collector struct {
	mu       sync.Mutex
	failed   map[entity.ChannelType]bool
	outcomes []*entity.DeliveryOutcome
}

func (c *collector) add(ch entity.ChannelType, ok bool, records []*entity.DeliveryOutcome) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !ok {
		c.failed[ch] = true
	}
	c.outcomes = append(c.outcomes, records...)
}

// Dispatch sends msg to every enabled channel of every device and waits for all batches.
// Channel failures never abort other channels; they are reported in the Result.
// The only error is ErrNoEligibleDevices for an empty device list.
func (e *Engine) Dispatch(ctx context.Context, devices []*entity.Device, msg notifier.Message, opts Options) (*Result, error) {
	if len(devices) == 0 {
		return nil, ErrNoEligibleDevices
	}
	if opts.Source == "" {
		opts.Source = entity.SourceBackend
	}

	ctx, span := tracing.StartSpan(ctx, "dispatch.Dispatch",
		attribute.Int("devices", len(devices)),
		attribute.String("source", string(opts.Source)))
	defer span.End()

	policies := e.loadPolicies(ctx)
	groups := partition(devices)
	col := &collector{failed: make(map[entity.ChannelType]bool)}

	// No WithContext: one failed batch must not cancel the rest.
	var g errgroup.Group
	for _, ch := range entity.AllChannels() {
		policy := policies[ch]
		for _, grp := range groups[ch] {
			for _, batch := range split(grp.devices, BatchSize(policy, len(grp.devices))) {
				ch, tenantID, batch := ch, grp.tenantID, batch
				g.Go(func() error {
					ok, records := e.runBatch(ctx, ch, tenantID, batch, msg, policy, opts)
					col.add(ch, ok, records)
					return nil
				})
			}
		}
	}
	_ = g.Wait()

	res := &Result{TotalDevices: len(devices), Outcomes: col.outcomes}
	for _, ch := range entity.AllChannels() {
		if col.failed[ch] {
			res.FailedChannels = append(res.FailedChannels, ch)
		}
	}
	res.Success = len(res.FailedChannels) == 0
	if res.Success {
		res.Message = fmt.Sprintf("Notification sent to %d devices.", len(devices))
	} else {
		labels := make([]string, len(res.FailedChannels))
		for i, ch := range res.FailedChannels {
			labels[i] = string(ch)
		}
		res.Message = fmt.Sprintf("Partial notification failure on channel(s): %s. Total devices: %d.",
			strings.Join(labels, ","), len(devices))
		span.SetAttributes(attribute.String("failed_channels", strings.Join(labels, ",")))
	}

	if opts.WriteLog && e.sink != nil && len(res.Outcomes) > 0 {
		if err := e.sink.EnqueueRange(ctx, res.Outcomes); err != nil {
			e.logger.Error("failed to hand outcomes to log sink",
				slog.Int("records", len(res.Outcomes)),
				slog.Any("error", err))
		}
	}

	e.logger.Info("dispatch finished",
		slog.Bool("success", res.Success),
		slog.Int("devices", len(devices)),
		slog.Int("outcomes", len(res.Outcomes)),
		slog.String("source", string(opts.Source)))
	return res, nil
}

// runBatch sends one batch and converts the result into per-device outcomes.
func (e *Engine) runBatch(ctx context.Context, ch entity.ChannelType, tenantID string, batch []*entity.Device,
	msg notifier.Message, policy entity.ChannelPolicy, opts Options) (ok bool, records []*entity.DeliveryOutcome) {
	started := e.now()
	begin := time.Now()
	var err error

	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("panic in channel batch",
				slog.String("channel", string(ch)),
				slog.String("tenant_id", tenantID),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())))
			err = fmt.Errorf("panic: %v", r)
		}
		ok = err == nil
		records = e.outcomes(ch, batch, msg, opts, started, err)
		e.recordHealth(ch, err)
		if ok {
			metrics.RecordChannelDispatch(string(ch), len(batch), 0, time.Since(begin))
		} else {
			metrics.RecordChannelDispatch(string(ch), 0, len(batch), time.Since(begin))
		}
	}()

	err = e.send(ctx, ch, tenantID, batch, msg, policy)
	if err != nil {
		e.logger.Warn("channel batch failed",
			slog.String("channel", string(ch)),
			slog.String("tenant_id", tenantID),
			slog.Int("devices", len(batch)),
			slog.Any("error", err))
	}
	return
}

func (e *Engine) send(ctx context.Context, ch entity.ChannelType, tenantID string, batch []*entity.Device,
	msg notifier.Message, policy entity.ChannelPolicy) error {
	sender, found := e.senders.Lookup(ch)
	if !found {
		return retry.Permanent(fmt.Errorf("%s: %w", ch, ErrNoSender))
	}

	release, err := e.acquireSlot(ctx, ch, policy.ConcurrencyLimit())
	if err != nil {
		return fmt.Errorf("acquire %s slot: %w", ch, err)
	}
	defer release()

	ctx, span := tracing.StartSpan(ctx, "dispatch.batch",
		attribute.String("channel", string(ch)),
		attribute.String("tenant_id", tenantID),
		attribute.Int("devices", len(batch)))
	defer span.End()

	timeout := policy.RequestTimeout
	if timeout <= 0 {
		timeout = entity.DefaultRequestTimeout
	}
	sendCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	limited := notifier.WithRateLimit(sender, e.limiterFor(ch, policy))
	err = e.breakers.Get(circuitbreaker.TenantKey(ch, tenantID)).Run(func() error {
		return limited.Send(sendCtx, tenantID, batch, msg)
	})
	if circuitbreaker.IsRejected(err) {
		err = fmt.Errorf("%s circuit open: %w", ch, err)
	}
	tracing.RecordError(span, err)
	return err
}

func (e *Engine) outcomes(ch entity.ChannelType, batch []*entity.Device, msg notifier.Message, opts Options,
	at time.Time, err error) []*entity.DeliveryOutcome {
	text := "Sent"
	if err != nil {
		text = clip(err.Error(), outcomeMessageLimit)
	}
	kind := notifier.Classify(err)
	out := make([]*entity.DeliveryOutcome, 0, len(batch))
	for _, d := range batch {
		out = append(out, &entity.DeliveryOutcome{
			DeviceID:       d.ID,
			TenantID:       d.TenantID,
			Channel:        ch,
			Source:         opts.Source,
			JobID:          opts.JobID,
			Title:          msg.Title,
			Body:           msg.Body,
			Success:        err == nil,
			Message:        text,
			FailureKind:    kind,
			RetryCount:     0,
			FirstAttemptAt: at,
			LastAttemptAt:  at,
		})
	}
	return out
}

// Policies returns the effective per-channel policies: defaults overlaid with valid store rows.
func (e *Engine) Policies(ctx context.Context) map[entity.ChannelType]entity.ChannelPolicy {
	return e.loadPolicies(ctx)
}

// loadPolicies reads the store once per call and overlays valid rows on the defaults.
func (e *Engine) loadPolicies(ctx context.Context) map[entity.ChannelType]entity.ChannelPolicy {
	out := make(map[entity.ChannelType]entity.ChannelPolicy, len(e.defaults))
	for ch, p := range e.defaults {
		out[ch] = p
	}
	if e.policies == nil {
		return out
	}
	rows, err := e.policies.List(ctx)
	if err != nil {
		e.logger.Warn("channel policy lookup failed, using defaults", slog.Any("error", err))
		return out
	}
	for _, p := range rows {
		if p == nil {
			continue
		}
		if err := p.Validate(); err != nil {
			e.logger.Warn("ignoring invalid channel policy",
				slog.String("channel", string(p.Channel)),
				slog.Any("error", err))
			continue
		}
		out[p.Channel] = *p
	}
	return out
}

// clip cuts s to at most n bytes without splitting a rune and replaces
// invalid UTF-8, which the outcome store would reject.
func clip(s string, n int) string {
	s = strings.ToValidUTF8(s, "\uFFFD")
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// acquireSlot takes one of the channel's concurrency slots. The returned
// func gives it back.
func (e *Engine) acquireSlot(ctx context.Context, ch entity.ChannelType, limit int) (func(), error) {
	s := e.reserveSlots(ch, limit)
	if s.prev != nil {
		select {
		case <-s.prev.drained:
		case <-ctx.Done():
			e.leaveSlots(s)
			return nil, ctx.Err()
		}
	}
	if err := s.sem.Acquire(ctx, 1); err != nil {
		e.leaveSlots(s)
		return nil, err
	}
	return func() {
		s.sem.Release(1)
		e.leaveSlots(s)
	}, nil
}

// reserveSlots returns the current generation for ch and counts the caller
// in it. A changed limit retires the current generation.
func (e *Engine) reserveSlots(ch entity.ChannelType, limit int) *channelSlots {
	e.mu.Lock()
	defer e.mu.Unlock()
	cur, ok := e.slots[ch]
	if !ok || cur.limit != limit {
		next := &channelSlots{limit: limit, sem: semaphore.NewWeighted(int64(limit)), drained: make(chan struct{})}
		if ok {
			cur.retired = true
			if cur.held == 0 {
				close(cur.drained)
			} else {
				next.prev = cur
			}
		}
		e.slots[ch] = next
		cur = next
	}
	cur.held++
	return cur
}

func (e *Engine) leaveSlots(s *channelSlots) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s.held--
	if s.retired && s.held == 0 {
		close(s.drained)
	}
}

func (e *Engine) limiterFor(ch entity.ChannelType, p entity.ChannelPolicy) *notifier.RateLimiter {
	if p.RateLimitPerSecond <= 0 {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.limiters[ch]
	if !ok || float64(l.Limit()) != p.RateLimitPerSecond {
		l = notifier.NewPolicyRateLimiter(p)
		e.limiters[ch] = l
	}
	return l
}

func (e *Engine) recordHealth(ch entity.ChannelType, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	h, ok := e.health[ch]
	if !ok {
		h = &channelHealth{}
		e.health[ch] = h
	}
	if err == nil {
		h.consecutiveFailures = 0
		return
	}
	h.consecutiveFailures++
	h.lastFailureAt = e.now()
	h.lastError = err.Error()
}

// ChannelHealthStatus is a point-in-time view of one channel. CircuitState
// is the worst state among the channel's tenant breakers.
type ChannelHealthStatus struct {
	Channel             entity.ChannelType `json:"channel"`
	Enabled             bool               `json:"enabled"`
	CircuitState        string             `json:"circuit_state"`
	CircuitOpen         bool               `json:"circuit_open"`
	OpenTenants         []string           `json:"open_tenants,omitempty"`
	ConsecutiveFailures int                `json:"consecutive_failures"`
	LastFailureAt       *time.Time         `json:"last_failure_at,omitempty"`
	LastError           string             `json:"last_error,omitempty"`
}

// ChannelHealth reports every channel in processing order.
func (e *Engine) ChannelHealth() []ChannelHealthStatus {
	out := make([]ChannelHealthStatus, 0, 4)
	for _, ch := range entity.AllChannels() {
		_, enabled := e.senders.Lookup(ch)
		st := ChannelHealthStatus{Channel: ch, Enabled: enabled, CircuitState: "closed"}

		prefix := circuitbreaker.TenantKey(ch, "")
		halfOpen := false
		for key, state := range e.breakers.States(prefix) {
			switch state {
			case "open":
				st.OpenTenants = append(st.OpenTenants, strings.TrimPrefix(key, prefix))
			case "half-open":
				halfOpen = true
			}
		}
		switch {
		case len(st.OpenTenants) > 0:
			sort.Strings(st.OpenTenants)
			st.CircuitState = "open"
			st.CircuitOpen = true
		case halfOpen:
			st.CircuitState = "half-open"
		}

		e.mu.Lock()
		if h := e.health[ch]; h != nil {
			st.ConsecutiveFailures = h.consecutiveFailures
			st.LastError = h.lastError
			if !h.lastFailureAt.IsZero() {
				t := h.lastFailureAt
				st.LastFailureAt = &t
			}
		}
		e.mu.Unlock()
		out = append(out, st)
	}
	return out
}
