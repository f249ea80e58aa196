package ratelimit

import (
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/IIAteeneaaII/ontester/internal/apperr"
)

type LimiterConfig struct {
	RPS   int `mapstructure:"rps"`
	Burst int `mapstructure:"burst"`
}

// RateLimiter is a redis token bucket shared by every gateway instance that
// fronts the same device.
type RateLimiter struct {
	Redis  *redis.Client
	Prefix string
	Config LimiterConfig
}

// KEYS[1] bucket, ARGV[1] burst, ARGV[2] tokens per second, ARGV[3] now in ms
var tokenBucket = redis.NewScript(`
local tokens_key = KEYS[1]
local max_tokens = tonumber(ARGV[1])
local refill_rate = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local bucket = redis.call('HMGET', tokens_key, 'tokens', 'last')
local tokens = tonumber(bucket[1]) or max_tokens
local last = tonumber(bucket[2]) or now
local delta = math.max(0, now - last) / 1000
local refill = math.floor(delta * refill_rate)
tokens = math.min(max_tokens, tokens + refill)
local allowed = 0
if tokens > 0 then
  tokens = tokens - 1
  allowed = 1
end
redis.call('HMSET', tokens_key, 'tokens', tokens, 'last', now)
redis.call('EXPIRE', tokens_key, math.max(2, math.ceil(max_tokens / math.max(refill_rate, 1))))
return allowed
`)

// New returns a limiter. A nil client disables limiting.
func New(client *redis.Client, prefix string, cfg LimiterConfig) *RateLimiter {
	if cfg.RPS < 1 {
		cfg.RPS = 1
	}
	if cfg.Burst < 1 {
		cfg.Burst = cfg.RPS
	}
	return &RateLimiter{Redis: client, Prefix: prefix, Config: cfg}
}

func (rl *RateLimiter) Key(r *http.Request, keyFunc func(*http.Request) string) string {
	return rl.Prefix + ":" + keyFunc(r)
}

func (rl *RateLimiter) Middleware(keyFunc func(r *http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if rl == nil || rl.Redis == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := rl.Key(r, keyFunc)
			now := time.Now().UnixMilli()
			res, err := tokenBucket.Run(r.Context(), rl.Redis, []string{key}, rl.Config.Burst, rl.Config.RPS, now).Int64()
			if err != nil {
				slog.Error("rate limiter eval failed", "key", key, "error", err)
				apperr.Write(w, apperr.Internal("rate limiter error", err))
				return
			}
			slog.Debug("token bucket", "key", key, "allowed", res, "burst", rl.Config.Burst, "rps", rl.Config.RPS)
			if res != 1 {
				apperr.Write(w, apperr.TooManyRequests("rate limit exceeded", 1))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// KeyByIP uses the client address. Behind chi's RealIP middleware this is
// the forwarded address.
func KeyByIP(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

// KeyByDevice buckets by client address and the device the request targets,
// so one browser hammering one CPE does not starve the others.
func KeyByDevice(device string) func(*http.Request) string {
	return func(r *http.Request) string {
		return device + ":" + KeyByIP(r)
	}
}
