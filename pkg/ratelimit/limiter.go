package ratelimit

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/platinummonkey/herohooks/pkg/observability"
	"github.com/sirupsen/logrus"
)

// DefaultTenant keys requests that carry no tenant
const DefaultTenant = "default"

// Limiter decides whether a request is allowed under a tenant's limits
type Limiter struct {
	store   Store
	classes []RouteClass
	now     func() time.Time
	logger  logrus.FieldLogger
	metrics *observability.Metrics
	otel    *observability.OTelMetrics
}

// Option configures a Limiter
type Option func(*Limiter)

// WithClock sets the time source
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		l.now = now
	}
}

// WithRouteClasses replaces DefaultRouteClasses
func WithRouteClasses(classes []RouteClass) Option {
	return func(l *Limiter) {
		l.classes = classes
	}
}

// WithLogger sets the logger
func WithLogger(logger logrus.FieldLogger) Option {
	return func(l *Limiter) {
		l.logger = logger
	}
}

// WithMetrics records decisions and store errors
func WithMetrics(metrics *observability.Metrics) Option {
	return func(l *Limiter) {
		l.metrics = metrics
	}
}

// WithOTelMetrics records denials through OpenTelemetry
func WithOTelMetrics(metrics *observability.OTelMetrics) Option {
	return func(l *Limiter) {
		l.otel = metrics
	}
}

// NewLimiter creates a limiter over store
func NewLimiter(store Store, opts ...Option) *Limiter {
	l := &Limiter{
		store:   store,
		classes: DefaultRouteClasses,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = observability.OrNop(l.logger)
	return l
}

// Check counts one request from info against cfg. On a store error the
// returned result allows the request and the error is returned alongside it.
func (l *Limiter) Check(ctx context.Context, tenantID string, cfg Config, info RequestInfo) (Result, error) {
	now := l.now()
	cfg = withDefaults(cfg)
	if tenantID == "" {
		tenantID = DefaultTenant
	}

	class := ClassifyRoute(l.classes, info.Route)
	isBot := info.IsBot || IsBotUserAgent(info.UserAgent)
	limit, burstLimit := cfg.MaxRequests, cfg.BurstMax
	if isBot {
		mult := cfg.BotMultiplier
		if mult <= 0 {
			mult = class.BotMultiplier
		}
		limit = scaleLimit(limit, mult)
		burstLimit = scaleLimit(burstLimit, mult)
	}

	blocked, err := l.store.IsBlocked(ctx, info.IP)
	if err != nil {
		return l.failOpen(limit, isBot), fmt.Errorf("check block list: %w", err)
	}
	if blocked {
		result := Result{
			Allowed:     false,
			Limit:       limit,
			IsBot:       isBot,
			RiskLevel:   RiskHigh,
			BlockReason: BlockReasonIPBlocked,
		}
		l.record(ctx, "blocked", result)
		return result, nil
	}

	burstAllowed := true
	var burst *Entry
	if cfg.burstEnabled() {
		burst, err = l.store.Update(ctx, burstKey(tenantID, info.IP, cfg.BurstWindow), now,
			countRequest(now, cfg.BurstWindow, burstLimit, false, info.UserAgent, isBot, &burstAllowed))
		if err != nil {
			return l.failOpen(limit, isBot), fmt.Errorf("update burst window: %w", err)
		}
	}

	mainAllowed := true
	main, err := l.store.Update(ctx, windowKey(tenantID, info.IP, cfg.Window), now,
		countRequest(now, cfg.Window, limit, !burstAllowed, info.UserAgent, isBot, &mainAllowed))
	if err != nil {
		return l.failOpen(limit, isBot), fmt.Errorf("update window: %w", err)
	}

	result := Result{
		Allowed:    burstAllowed && mainAllowed,
		Limit:      limit,
		Remaining:  nonNegative(limit - main.Count),
		ResetTime:  main.ResetTime,
		Violations: main.Violations,
		IsBot:      isBot,
		RiskLevel:  assessRisk(main, isBot, class, now),
	}
	if burst != nil {
		result.Remaining = min(result.Remaining, nonNegative(burstLimit-burst.Count))
	}

	switch {
	case !burstAllowed:
		result.BlockReason = BlockReasonBurstExceeded
		result.ResetTime = burst.ResetTime
	case !mainAllowed:
		result.BlockReason = BlockReasonRateExceeded
	}

	if !result.Allowed {
		result.Remaining = 0
		result.RetryAfter = retryAfterSeconds(result.ResetTime, now)
		l.record(ctx, "denied", result)
		l.logger.WithFields(logrus.Fields{
			"tenant_id":   tenantID,
			"ip":          info.IP,
			"route":       info.Route,
			"reason":      result.BlockReason,
			"violations":  result.Violations,
			"risk_level":  result.RiskLevel,
			"is_bot":      isBot,
			"retry_after": result.RetryAfter,
		}).Warn("Request rate limited")
		return result, nil
	}

	l.record(ctx, "allowed", result)
	return result, nil
}

// Block adds ip to the block list. Blocked IPs are denied before any
// counting.
func (l *Limiter) Block(ctx context.Context, ip string) error {
	if err := l.store.Block(ctx, ip); err != nil {
		return fmt.Errorf("block %s: %w", ip, err)
	}
	l.logger.WithField("ip", ip).Warn("IP blocked")
	return nil
}

// Unblock removes ip from the block list
func (l *Limiter) Unblock(ctx context.Context, ip string) error {
	if err := l.store.Unblock(ctx, ip); err != nil {
		return fmt.Errorf("unblock %s: %w", ip, err)
	}
	l.logger.WithField("ip", ip).Info("IP unblocked")
	return nil
}

// IsBlocked reports whether ip is on the block list
func (l *Limiter) IsBlocked(ctx context.Context, ip string) (bool, error) {
	return l.store.IsBlocked(ctx, ip)
}

// Cleanup removes expired entries. Entries with violations are kept for
// ViolatorRetention after their window ends.
func (l *Limiter) Cleanup(ctx context.Context) (int, error) {
	removed, err := l.store.Cleanup(ctx, l.now())
	if err != nil {
		return 0, fmt.Errorf("rate limit cleanup: %w", err)
	}
	if removed > 0 {
		l.logger.WithField("removed", removed).Debug("Rate limit entries cleaned up")
	}
	return removed, nil
}

// StartCleanup runs Cleanup every interval until ctx is done
func (l *Limiter) StartCleanup(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if _, err := l.Cleanup(ctx); err != nil {
					l.logger.WithError(err).Warn("Rate limit cleanup failed")
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (l *Limiter) failOpen(limit int, isBot bool) Result {
	if l.metrics != nil {
		l.metrics.RateLimitStoreErrors.Inc()
	}
	return Result{Allowed: true, Limit: limit, Remaining: limit, IsBot: isBot, RiskLevel: RiskLow}
}

func (l *Limiter) record(ctx context.Context, decision string, result Result) {
	if l.metrics != nil {
		l.metrics.RateLimitDecisionsTotal.WithLabelValues(decision, string(result.RiskLevel), strconv.FormatBool(result.IsBot)).Inc()
	}
	if !result.Allowed {
		l.otel.RecordRateLimited(ctx, string(result.RiskLevel), result.IsBot)
	}
}

// countRequest counts one request against limit in a window of the given
// length. When deny is set, or the window is full, it records a violation
// instead.
func countRequest(now time.Time, window time.Duration, limit int, deny bool, userAgent string, isBot bool, allowed *bool) UpdateFunc {
	return func(current *Entry) *Entry {
		var entry Entry
		if current == nil || current.Expired(now) {
			entry = Entry{ResetTime: now.Add(window), FirstSeen: now}
			if current != nil {
				entry.Violations = current.Violations
				entry.LastViolation = current.LastViolation
			}
		} else {
			entry = *current
		}
		entry.IsBot = isBot
		entry.UserAgent = userAgent

		if deny || entry.Count >= limit {
			at := now
			entry.Violations++
			entry.LastViolation = &at
			*allowed = false
			return &entry
		}
		entry.Count++
		*allowed = true
		return &entry
	}
}

// assessRisk scores bot traffic, past violations, request rate over the
// entry's lifetime and sensitive routes
func assessRisk(entry *Entry, isBot bool, class RouteClass, now time.Time) RiskLevel {
	score := 0
	if isBot {
		score++
	}

	switch {
	case entry.Violations > 10:
		score += 3
	case entry.Violations > 5:
		score += 2
	case entry.Violations > 0:
		score++
	}

	lifetime := now.Sub(entry.FirstSeen).Seconds()
	if lifetime < 1 {
		lifetime = 1
	}
	rate := float64(entry.Count) / lifetime
	switch {
	case rate > 10:
		score += 2
	case rate > 5:
		score++
	}

	if class.Sensitive {
		score++
	}

	switch {
	case score >= 4:
		return RiskHigh
	case score >= 2:
		return RiskMedium
	default:
		return RiskLow
	}
}

func withDefaults(cfg Config) Config {
	def := DefaultConfig()
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}
	if cfg.MaxRequests <= 0 {
		cfg.MaxRequests = def.MaxRequests
	}
	return cfg
}

// scaleLimit applies a bot multiplier, rounding up and never below one
func scaleLimit(limit int, mult float64) int {
	if limit <= 0 {
		return limit
	}
	scaled := int(math.Ceil(float64(limit) * mult))
	if scaled < 1 {
		return 1
	}
	return scaled
}

func retryAfterSeconds(reset, now time.Time) int {
	secs := int(math.Ceil(reset.Sub(now).Seconds()))
	if secs < 1 {
		return 1
	}
	return secs
}

func nonNegative(n int) int {
	if n < 0 {
		return 0
	}
	return n
}

func windowKey(tenantID, ip string, window time.Duration) string {
	return fmt.Sprintf("%s:%s:%d", tenantID, ip, window.Milliseconds())
}

func burstKey(tenantID, ip string, window time.Duration) string {
	return windowKey(tenantID, ip, window) + ":burst"
}
