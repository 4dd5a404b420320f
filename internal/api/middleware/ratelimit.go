package middleware

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/gigchat/internal/metrics"
)

// RateLimit is the request budget of one route prefix.
type RateLimit struct {
	Method   string
	Prefix   string
	Requests int
	Window   time.Duration
	KeyFunc  func(r *http.Request) string
}

func (l RateLimit) matches(r *http.Request) bool {
	return r.Method == l.Method && strings.HasPrefix(r.URL.Path, l.Prefix)
}

// defaultLimits is checked in order; the first match wins.
var defaultLimits = []RateLimit{
	{http.MethodPut, "/api/messages/read", 120, time.Minute, ipKey},
	{http.MethodPost, "/api/messages", 60, time.Minute, ipKey},
	{http.MethodGet, "/api/messages/", 120, time.Minute, ipKey},
	{http.MethodGet, "/api/conversations/", 120, time.Minute, ipKey},
	{http.MethodGet, "/ws/", 30, time.Minute, userOrIPKey},
}

// RateLimiterConfig holds configuration for the rate limiter.
type RateLimiterConfig struct {
	Whitelist          []string      // IPs or CIDRs exempt from rate limiting
	AutoBlockEnabled   bool          // Enable auto-blocking after repeated violations
	ViolationThreshold int64         // violations per hour before a block; default 10
	BlockDuration      time.Duration // default 24h
}

// RateLimiter enforces per-key sliding windows stored in Redis sorted sets.
// Redis failures let the request through and are logged and counted.
type RateLimiter struct {
	client    *redis.Client
	limits    []RateLimit
	blocker   *IPBlocker
	logger    zerolog.Logger
	whitelist []*net.IPNet
	allowIPs  map[string]bool

	autoBlock     bool
	threshold     int64
	blockDuration time.Duration
}

// NewRateLimiter creates a new rate limiter.
func NewRateLimiter(client *redis.Client, logger zerolog.Logger, cfg RateLimiterConfig) *RateLimiter {
	rl := &RateLimiter{
		client:        client,
		limits:        defaultLimits,
		blocker:       NewIPBlocker(client),
		logger:        logger.With().Str("component", "ratelimit").Logger(),
		allowIPs:      make(map[string]bool),
		autoBlock:     cfg.AutoBlockEnabled,
		threshold:     cfg.ViolationThreshold,
		blockDuration: cfg.BlockDuration,
	}
	if rl.threshold <= 0 {
		rl.threshold = 10
	}
	if rl.blockDuration <= 0 {
		rl.blockDuration = 24 * time.Hour
	}

	for _, entry := range cfg.Whitelist {
		if !strings.Contains(entry, "/") {
			rl.allowIPs[entry] = true
			continue
		}
		_, ipNet, err := net.ParseCIDR(entry)
		if err != nil {
			logger.Warn().Str("entry", entry).Err(err).Msg("invalid CIDR in whitelist")
			continue
		}
		rl.whitelist = append(rl.whitelist, ipNet)
	}

	if len(cfg.Whitelist) > 0 {
		logger.Info().
			Int("ips", len(rl.allowIPs)).
			Int("cidrs", len(rl.whitelist)).
			Msg("rate limit whitelist configured")
	}

	return rl
}

func (rl *RateLimiter) isWhitelisted(ipStr string) bool {
	if rl.allowIPs[ipStr] {
		return true
	}
	ip := net.ParseIP(ipStr)
	if ip == nil {
		return false
	}
	for _, ipNet := range rl.whitelist {
		if ipNet.Contains(ip) {
			return true
		}
	}
	return false
}

func ipKey(r *http.Request) string {
	return "ratelimit:ip:" + RealIP(r)
}

// userOrIPKey keys websocket handshakes by the userId query parameter and IP.
func userOrIPKey(r *http.Request) string {
	if userID := r.URL.Query().Get("userId"); userID != "" {
		return "ratelimit:user:" + userID + ":" + RealIP(r)
	}
	return "ratelimit:ip:" + RealIP(r)
}

// RealIP extracts the real client IP from headers or connection.
func RealIP(r *http.Request) string {
	if ip := r.Header.Get("Fly-Client-IP"); ip != "" {
		return ip
	}
	if ip := r.Header.Get("X-Forwarded-For"); ip != "" {
		return strings.TrimSpace(strings.Split(ip, ",")[0])
	}
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

// Decision is the outcome of one rate limit check.
type Decision struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// CheckAndIncrement records one request against key and reports whether it
// fits in the last window. Rejected requests count toward the window too.
func (rl *RateLimiter) CheckAndIncrement(ctx context.Context, key string, limit int, window time.Duration) (Decision, error) {
	now := time.Now()
	windowStart := now.Add(-window)

	pipe := rl.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, key, "-inf", strconv.FormatInt(windowStart.UnixMicro(), 10))
	countCmd := pipe.ZCard(ctx, key)
	pipe.ZAdd(ctx, key, redis.Z{
		Score:  float64(now.UnixMicro()),
		Member: strconv.FormatInt(now.UnixNano(), 10),
	})
	pipe.PExpire(ctx, key, window)
	oldestCmd := pipe.ZRangeWithScores(ctx, key, 0, 0)

	if _, err := pipe.Exec(ctx); err != nil {
		return Decision{Allowed: true, Remaining: limit, ResetAt: now.Add(window)}, fmt.Errorf("rate limit %s: %w", key, err)
	}

	count := int(countCmd.Val())
	resetAt := now.Add(window)
	if oldest := oldestCmd.Val(); len(oldest) == 1 {
		resetAt = time.UnixMicro(int64(oldest[0].Score)).Add(window)
	}

	return Decision{
		Allowed:   count < limit,
		Remaining: max(limit-count-1, 0),
		ResetAt:   resetAt,
	}, nil
}

// Middleware returns the rate limiting middleware.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := RealIP(r)
		if rl.isWhitelisted(ip) {
			next.ServeHTTP(w, r)
			return
		}

		blocked, err := rl.blocker.IsBlocked(r.Context(), ip)
		if err != nil {
			rl.redisFailed(err, "block_check")
		}
		if blocked {
			rl.logger.Warn().
				Str("type", "security").
				Str("event", "blocked_request").
				Str("ip", ip).
				Str("endpoint", r.URL.Path).
				Msg("blocked IP attempted request")
			metrics.BlockedRequests.WithLabelValues("ip_blocked").Inc()
			writeJSONError(w, http.StatusForbidden, "temporarily blocked")
			return
		}

		limit := rl.findLimit(r)
		if limit == nil {
			next.ServeHTTP(w, r)
			return
		}

		key := limit.KeyFunc(r)
		d, err := rl.CheckAndIncrement(r.Context(), key, limit.Requests, limit.Window)
		if err != nil {
			rl.redisFailed(err, "check")
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit.Requests))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))

		if d.Allowed {
			next.ServeHTTP(w, r)
			return
		}

		retryAfter := int(time.Until(d.ResetAt).Round(time.Second).Seconds())
		w.Header().Set("Retry-After", strconv.Itoa(max(retryAfter, 1)))
		metrics.RateLimitHits.WithLabelValues(normalizePath(r.URL.Path)).Inc()
		rl.logger.Warn().
			Str("type", "security").
			Str("event", "rate_limit_exceeded").
			Str("ip", ip).
			Str("endpoint", r.URL.Path).
			Str("key", key).
			Msg("rate limit exceeded")

		rl.trackViolation(r.Context(), ip)
		writeJSONError(w, http.StatusTooManyRequests, "rate limit exceeded")
	})
}

func (rl *RateLimiter) redisFailed(err error, op string) {
	metrics.RateLimitErrors.WithLabelValues(op).Inc()
	rl.logger.Error().Err(err).Str("op", op).Msg("rate limiter redis error, allowing request")
}

func (rl *RateLimiter) findLimit(r *http.Request) *RateLimit {
	for i := range rl.limits {
		if rl.limits[i].matches(r) {
			return &rl.limits[i]
		}
	}
	return nil
}

// trackViolation counts violations per IP over an hour and blocks the IP
// once the threshold is reached.
func (rl *RateLimiter) trackViolation(ctx context.Context, ip string) {
	if !rl.autoBlock {
		return
	}

	key := "violations:ip:" + ip
	pipe := rl.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, time.Hour)
	if _, err := pipe.Exec(ctx); err != nil {
		rl.redisFailed(err, "violation")
		return
	}

	count := incr.Val()
	if count < rl.threshold {
		return
	}
	if err := rl.blocker.Block(ctx, ip, rl.blockDuration, "repeated rate limit violations"); err != nil {
		rl.redisFailed(err, "block")
		return
	}
	metrics.BlockedRequests.WithLabelValues("auto_block").Inc()
	rl.logger.Warn().
		Str("type", "security").
		Str("event", "ip_auto_blocked").
		Str("ip", ip).
		Int64("violations", count).
		Dur("duration", rl.blockDuration).
		Msg("IP auto-blocked for repeated violations")
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	fmt.Fprintf(w, `{"error":%q}`, msg)
}

// IPBlocker stores temporary IP blocks in Redis.
type IPBlocker struct {
	client *redis.Client
}

// NewIPBlocker creates a new IP blocker.
func NewIPBlocker(client *redis.Client) *IPBlocker {
	return &IPBlocker{client: client}
}

func blockKey(ip string) string { return "blocked:ip:" + ip }

// IsBlocked reports whether ip is currently blocked.
func (b *IPBlocker) IsBlocked(ctx context.Context, ip string) (bool, error) {
	n, err := b.client.Exists(ctx, blockKey(ip)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Block blocks ip for duration.
func (b *IPBlocker) Block(ctx context.Context, ip string, duration time.Duration, reason string) error {
	return b.client.Set(ctx, blockKey(ip), reason, duration).Err()
}
