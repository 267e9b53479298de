// Package ratecontrol paces outbound llm-service calls against the
// requests-per-minute and tokens-per-minute budgets in models.yaml.
package ratecontrol

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"gopkg.in/yaml.v3"
)

type RateLimit struct {
	RPM int
	TPM int
}

// Unlimited reports whether neither budget is set.
func (l RateLimit) Unlimited() bool {
	return l.RPM <= 0 && l.TPM <= 0
}

type fileConfig struct {
	RateLimits struct {
		DefaultRPM        int `yaml:"default_rpm"`
		DefaultTPM        int `yaml:"default_tpm"`
		ProviderOverrides map[string]struct {
			RPM int `yaml:"rpm"`
			TPM int `yaml:"tpm"`
		} `yaml:"provider_overrides"`
	} `yaml:"rate_limits"`
}

// Limits is the parsed rate_limits section.
type Limits struct {
	Default   RateLimit
	Providers map[string]RateLimit
}

var builtInProviderLimits = map[string]RateLimit{
	"openai":    {RPM: 30, TPM: 60000},
	"anthropic": {RPM: 20, TPM: 40000},
	"google":    {RPM: 40, TPM: 80000},
	"mistral":   {RPM: 50, TPM: 100000},
}

// Load reads the rate_limits section of a models.yaml file. A file
// without the section yields empty Limits.
func Load(path string) (Limits, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Limits{}, fmt.Errorf("failed to read rate limits: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) (Limits, error) {
	var cfg fileConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Limits{}, fmt.Errorf("failed to parse rate limits: %w", err)
	}
	out := Limits{
		Default:   RateLimit{RPM: cfg.RateLimits.DefaultRPM, TPM: cfg.RateLimits.DefaultTPM},
		Providers: make(map[string]RateLimit, len(cfg.RateLimits.ProviderOverrides)),
	}
	for name, o := range cfg.RateLimits.ProviderOverrides {
		out.Providers[normalize(name)] = RateLimit{RPM: o.RPM, TPM: o.TPM}
	}
	return out, nil
}

// ForProvider combines the default budget with the provider's override,
// or with the built-in provider budget when the file has no override.
func (l Limits) ForProvider(provider string) RateLimit {
	key := normalize(provider)
	if o, ok := l.Providers[key]; ok {
		return CombineLimits(l.Default, o)
	}
	if b, ok := builtInProviderLimits[key]; ok && l.Default.Unlimited() {
		return b
	}
	return l.Default
}

// CombineLimits keeps the tighter positive value of each budget.
func CombineLimits(a, b RateLimit) RateLimit {
	return RateLimit{RPM: minPositive(a.RPM, b.RPM), TPM: minPositive(a.TPM, b.TPM)}
}

func minPositive(a, b int) int {
	switch {
	case a <= 0:
		return max(b, 0)
	case b <= 0:
		return a
	default:
		return min(a, b)
	}
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Pacer blocks callers until both the request and token budgets allow
// another call. A nil Pacer never blocks.
type Pacer struct {
	requests *rate.Limiter
	tokens   *rate.Limiter
	limit    RateLimit
	logger   *zap.Logger
}

// NewPacer returns nil for an unlimited budget.
func NewPacer(limit RateLimit, logger *zap.Logger) *Pacer {
	if limit.Unlimited() {
		return nil
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Pacer{limit: limit, logger: logger}
	if limit.RPM > 0 {
		p.requests = rate.NewLimiter(rate.Limit(float64(limit.RPM)/60.0), max(1, limit.RPM/10))
	}
	if limit.TPM > 0 {
		p.tokens = rate.NewLimiter(rate.Limit(float64(limit.TPM)/60.0), limit.TPM)
	}
	return p
}

func (p *Pacer) Limit() RateLimit {
	if p == nil {
		return RateLimit{}
	}
	return p.limit
}

// Wait reserves one request and the estimated tokens. Estimates above
// the per-minute token budget are clamped so a single large call can
// still proceed.
func (p *Pacer) Wait(ctx context.Context, estimatedTokens int) error {
	if p == nil {
		return nil
	}
	start := time.Now()
	defer func() {
		if waited := time.Since(start); waited > time.Second {
			p.logger.Debug("LLM call paced", zap.Duration("waited", waited), zap.Int("estimated_tokens", estimatedTokens))
		}
	}()
	if p.requests != nil {
		if err := p.requests.Wait(ctx); err != nil {
			return fmt.Errorf("rate limit wait: %w", err)
		}
	}
	if p.tokens != nil && estimatedTokens > 0 {
		n := min(estimatedTokens, p.tokens.Burst())
		if err := p.tokens.WaitN(ctx, n); err != nil {
			return fmt.Errorf("token budget wait: %w", err)
		}
	}
	return nil
}
