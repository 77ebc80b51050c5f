// Package ratelimit enforces per-model request and token budgets at
// intake. Grounded on matrixinfer-ai-kthena's filters/ratelimit package: the
// same Limiter seam over golang.org/x/time/rate, the same input/output
// token split. The global Redis-backed limiter variant is dropped — cluster-
// wide coordination is out of scope for a single-node gateway — leaving
// only the local, in-process limiter.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/turtacn/inferserve/internal/apierr"
	"github.com/turtacn/inferserve/internal/tokenizer"
)

// Limiter is the capability both token-bucket and (hypothetically) other
// limiter strategies expose.
type Limiter interface {
	AllowN(now time.Time, n int) bool
	Tokens() float64
}

// LocalLimiter wraps golang.org/x/time/rate.Limiter to satisfy Limiter.
type LocalLimiter struct {
	*rate.Limiter
}

func NewLocalLimiter(limit rate.Limit, burst int) *LocalLimiter {
	return &LocalLimiter{Limiter: rate.NewLimiter(limit, burst)}
}

func (l *LocalLimiter) Tokens() float64 { return l.Limiter.Tokens() }

// PerModelLimiter enforces independent input-token and request-rate budgets
// for each model id.
type PerModelLimiter struct {
	mu sync.RWMutex

	requestLimiter map[string]Limiter
	inputLimiter   map[string]Limiter

	tok tokenizer.Tokenizer
}

func New(tok tokenizer.Tokenizer) *PerModelLimiter {
	if tok == nil {
		tok = tokenizer.NewSimpleEstimateTokenizer()
	}
	return &PerModelLimiter{
		requestLimiter: make(map[string]Limiter),
		inputLimiter:   make(map[string]Limiter),
		tok:            tok,
	}
}

// Configure installs (or replaces) the budgets for a model. requestsPerSec
// <= 0 or inputTokensPerSec <= 0 disables that budget for the model.
func (p *PerModelLimiter) Configure(modelID string, requestsPerSec float64, requestBurst int, inputTokensPerSec float64, inputTokenBurst int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if requestsPerSec > 0 {
		p.requestLimiter[modelID] = NewLocalLimiter(rate.Limit(requestsPerSec), requestBurst)
	} else {
		delete(p.requestLimiter, modelID)
	}
	if inputTokensPerSec > 0 {
		p.inputLimiter[modelID] = NewLocalLimiter(rate.Limit(inputTokensPerSec), inputTokenBurst)
	} else {
		delete(p.inputLimiter, modelID)
	}
}

func (p *PerModelLimiter) Remove(modelID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.requestLimiter, modelID)
	delete(p.inputLimiter, modelID)
}

// Allow checks both the request-rate and the estimated-input-token budget
// for modelID. On the first exceeded budget it returns an Overloaded error
// without touching the other.
func (p *PerModelLimiter) Allow(modelID, text string) error {
	p.mu.RLock()
	reqLimiter, hasReq := p.requestLimiter[modelID]
	inLimiter, hasIn := p.inputLimiter[modelID]
	p.mu.RUnlock()

	if hasReq && !reqLimiter.AllowN(time.Now(), 1) {
		return apierr.NewOverloaded()
	}

	if hasIn {
		tokens, err := p.tok.CalculateTokenNum(text)
		if err != nil {
			tokens = len(text) / 4 // offline fallback, mirrors the tokenizer's own estimate path
		}
		if !inLimiter.AllowN(time.Now(), tokens) {
			return apierr.NewOverloaded()
		}
	}
	return nil
}
