package lim

import (
	"context"
	"fmt"
	"math"
	"net"
	"net/http"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"
	"pastelink/svc/util"
)

const (
	maxLimiters    = 10000
	window         = time.Minute
	counterTimeout = 100 * time.Millisecond
)

// Counter is a shared fixed-window counter, e.g. Redis. RateLimit returns
// the usage of key in the current window including this call.
type Counter interface {
	RateLimit(ctx context.Context, key string, limit int, window time.Duration) (int, error)
}

// Limiter enforces per-client request rates. With a Counter the budget is
// shared by every process; without one, or when the counter fails, each
// process keeps its own token buckets.
type Limiter struct {
	counter        Counter
	trustedProxies []string
	rpm            int
	burst          int
	local          *lru.Cache[string, *rate.Limiter]
}

type RateLimitResult struct {
	Allowed   bool
	Limit     int
	Remaining int
	Reset     time.Time
}

func New(rpm, burst int, counter Counter, trustedProxies []string) (*Limiter, error) {
	if rpm <= 0 || burst <= 0 {
		return nil, fmt.Errorf("rate limit rpm and burst must be positive")
	}
	for _, proxy := range trustedProxies {
		if strings.Contains(proxy, "/") {
			if _, _, err := net.ParseCIDR(proxy); err != nil {
				return nil, fmt.Errorf("invalid CIDR in trustedProxies: %s: %w", proxy, err)
			}
		} else if net.ParseIP(proxy) == nil {
			return nil, fmt.Errorf("invalid IP in trustedProxies: %s", proxy)
		}
	}
	local, err := lru.New[string, *rate.Limiter](maxLimiters)
	if err != nil {
		return nil, err
	}
	return &Limiter{
		counter:        counter,
		trustedProxies: trustedProxies,
		rpm:            rpm,
		burst:          burst,
		local:          local,
	}, nil
}

func (l *Limiter) CheckLimit(r *http.Request, endpoint string) *RateLimitResult {
	ip := GetRealIP(r, l.trustedProxies)
	now := time.Now()
	if l.counter != nil {
		ctx, cancel := context.WithTimeout(r.Context(), counterTimeout)
		defer cancel()
		usage, err := l.counter.RateLimit(ctx, "ratelimit:"+endpoint+":"+ip, l.rpm, window)
		if err == nil {
			remaining := l.rpm - usage
			if remaining < 0 {
				remaining = 0
			}
			return &RateLimitResult{
				Allowed:   usage <= l.rpm,
				Limit:     l.rpm,
				Remaining: remaining,
				Reset:     now.Add(window),
			}
		}
		util.Warn().Err(err).Msg("shared rate limit unavailable, using local fallback")
	}
	return l.checkLocal(ip, endpoint, now)
}

func (l *Limiter) checkLocal(ip, endpoint string, now time.Time) *RateLimitResult {
	key := ip + ":" + endpoint
	lim, ok := l.local.Get(key)
	if !ok {
		lim = rate.NewLimiter(rate.Limit(float64(l.rpm)/window.Seconds()), l.burst)
		// Another request may have raced us in; keep whichever won.
		if prev, found, _ := l.local.PeekOrAdd(key, lim); found {
			lim = prev
		}
	}
	allowed := lim.AllowN(now, 1)
	remaining := int(math.Floor(lim.TokensAt(now)))
	if remaining < 0 {
		remaining = 0
	}
	return &RateLimitResult{
		Allowed:   allowed,
		Limit:     l.rpm,
		Remaining: remaining,
		Reset:     now.Add(window),
	}
}

func GetRealIP(r *http.Request, trustedProxies []string) string {
	remoteIP := stripPort(r.RemoteAddr)
	if len(trustedProxies) == 0 || !isTrustedProxy(remoteIP, trustedProxies) {
		return remoteIP
	}
	xff := r.Header.Get("X-Forwarded-For")
	if xff == "" {
		return remoteIP
	}
	const maxIPsToParse = 100
	hops := strings.Split(xff, ",")
	parsed := 0
	// Walk right to left; the first hop we do not trust is the client.
	for i := len(hops) - 1; i >= 0 && parsed < maxIPsToParse; i-- {
		ipStr := strings.TrimSpace(hops[i])
		if ipStr == "" {
			continue
		}
		parsed++
		if net.ParseIP(ipStr) == nil {
			util.Warn().Str("ip", util.RedactIP(ipStr)).Msg("invalid IP in X-Forwarded-For, skipping")
			continue
		}
		if !isTrustedProxy(ipStr, trustedProxies) {
			return ipStr
		}
	}
	return remoteIP
}
func isTrustedProxy(ip string, trustedProxies []string) bool {
	parsedIP := net.ParseIP(ip)
	for _, proxy := range trustedProxies {
		if ip == proxy {
			return true
		}
		if strings.Contains(proxy, "/") && parsedIP != nil {
			if _, subnet, err := net.ParseCIDR(proxy); err == nil && subnet.Contains(parsedIP) {
				return true
			}
		}
	}
	return false
}
func stripPort(ip string) string {
	if host, _, err := net.SplitHostPort(ip); err == nil {
		return host
	}
	return ip
}
