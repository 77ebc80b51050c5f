// Package tokenizer estimates token counts for request/response payloads,
// used by the dispatcher's per-response token counts and throughput and by
// rate limiting. Grounded on
// matrixinfer-ai-kthena's filters/tokenizer package: the same Tokenizer
// interface, the same chars-per-token fallback heuristic, and the same
// tiktoken-go + tiktoken-go-loader pairing for an exact offline BPE count.
package tokenizer

import (
	"math"
	"sync"

	"github.com/pkoukk/tiktoken-go"
	tiktokenloader "github.com/pkoukk/tiktoken-go-loader"
)

// Tokenizer estimates the number of tokens a piece of text would consume.
type Tokenizer interface {
	CalculateTokenNum(text string) (int, error)
}

// SimpleEstimateTokenizer approximates token count from character count,
// for backends or configurations where an exact encoding isn't known.
type SimpleEstimateTokenizer struct {
	CharactersPerToken float64
}

func NewSimpleEstimateTokenizer() Tokenizer {
	return &SimpleEstimateTokenizer{CharactersPerToken: 4.0}
}

func (s *SimpleEstimateTokenizer) CalculateTokenNum(text string) (int, error) {
	if text == "" {
		return 0, nil
	}
	return int(math.Ceil(float64(len(text)) / s.CharactersPerToken)), nil
}

const encodingName = "cl100k_base"

var (
	cl100kOnce     sync.Once
	cl100kEncoding *tiktoken.Tiktoken
	cl100kErr      error
)

// cl100k lazily builds the cl100k_base encoding once per process and reuses
// it thereafter — dispatcher.execute counts tokens twice per completed
// response, and rebuilding the BPE loader/encoding on every call
// would put avoidable allocation on that hot path.
func cl100k() (*tiktoken.Tiktoken, error) {
	cl100kOnce.Do(func() {
		tiktoken.SetBpeLoader(tiktokenloader.NewOfflineLoader())
		cl100kEncoding, cl100kErr = tiktoken.GetEncoding(encodingName)
	})
	return cl100kEncoding, cl100kErr
}

// TikTokenizer counts tokens exactly for models whose vocabulary matches
// OpenAI's cl100k_base BPE encoding, using an offline vocabulary loader so
// no network access is required at inference time.
type TikTokenizer struct{}

func NewTikTokenizer() Tokenizer { return &TikTokenizer{} }

func (t *TikTokenizer) CalculateTokenNum(text string) (int, error) {
	encoding, err := cl100k()
	if err != nil {
		return 0, err
	}
	return len(encoding.Encode(text, nil, nil)), nil
}

// ForBackend resolves which Tokenizer a model's backend should use. Exact
// backends get cl100k_base accounting; everything else falls back to the
// character heuristic rather than assuming a vocabulary it doesn't have.
func ForBackend(backend string) Tokenizer {
	switch backend {
	case "openai-compatible", "http-proxy":
		return NewTikTokenizer()
	default:
		return NewSimpleEstimateTokenizer()
	}
}
