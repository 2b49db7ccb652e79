package tokens

import (
	"encoding/json"
	"fmt"
	"sync"

	tiktoken "github.com/pkoukk/tiktoken-go"
	"go.uber.org/zap"
)

// DefaultEncoding is the fallback encoding when a model is not recognized.
const DefaultEncoding = "cl100k_base"

// modelEncodings maps provider model names to tiktoken encodings.
// Non-OpenAI models use cl100k_base as an approximation.
var modelEncodings = map[string]string{
	"gpt-4o":      "o200k_base",
	"gpt-4o-mini": "o200k_base",
	"gpt-4.1":     "o200k_base",
	"o1":          "o200k_base",
	"o3-mini":     "o200k_base",

	"gpt-4":         "cl100k_base",
	"gpt-4-turbo":   "cl100k_base",
	"gpt-3.5-turbo": "cl100k_base",

	"claude-3-5-sonnet": "cl100k_base",
	"claude-3-opus":     "cl100k_base",
	"claude-3-haiku":    "cl100k_base",
}

// EncodingForModel returns the tiktoken encoding for a model name.
func EncodingForModel(model string) string {
	if enc, ok := modelEncodings[model]; ok {
		return enc
	}
	return DefaultEncoding
}

// ModelFromBody pulls the "model" field out of a JSON request body so
// the count can use the model's own encoding. Non-JSON bodies and
// bodies without a model yield "".
func ModelFromBody(body []byte) string {
	var envelope struct {
		Model string `json:"model"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return ""
	}
	return envelope.Model
}

// Counter counts tokens with tiktoken. It is used only for telemetry
// annotations; enforcement decisions and control-plane events always use
// Estimate. When disabled, every count is zero so callers can fall back
// to the heuristic without branching.
type Counter struct {
	defaultEncoding string
	encodingCache   map[string]*tiktoken.Tiktoken
	mu              sync.RWMutex
	logger          *zap.SugaredLogger
	enabled         bool
}

// NewCounter creates a Counter. defaultEncoding falls back to
// DefaultEncoding when empty. Resolving an encoding loads its BPE
// ranks, so the default is resolved eagerly only when counting is
// enabled; a disabled Counter never touches encoding data.
func NewCounter(defaultEncoding string, logger *zap.SugaredLogger, enabled bool) (*Counter, error) {
	if defaultEncoding == "" {
		defaultEncoding = DefaultEncoding
	}

	c := &Counter{
		defaultEncoding: defaultEncoding,
		encodingCache:   make(map[string]*tiktoken.Tiktoken),
		logger:          logger,
		enabled:         enabled,
	}

	if enabled {
		if _, err := c.getEncoding(defaultEncoding); err != nil {
			return nil, fmt.Errorf("resolving encoding %q: %w", defaultEncoding, err)
		}
	}
	return c, nil
}

// getEncoding retrieves or caches a tiktoken encoding.
func (c *Counter) getEncoding(encoding string) (*tiktoken.Tiktoken, error) {
	c.mu.RLock()
	if enc, ok := c.encodingCache[encoding]; ok {
		c.mu.RUnlock()
		return enc, nil
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()

	// Double-check after acquiring write lock.
	if enc, ok := c.encodingCache[encoding]; ok {
		return enc, nil
	}

	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("failed to get encoding %q: %w", encoding, err)
	}

	c.encodingCache[encoding] = enc
	return enc, nil
}

// Count counts tokens in text using the default encoding.
func (c *Counter) Count(text string) (int, error) {
	if !c.IsEnabled() {
		return 0, nil
	}
	return c.countForEncoding(text, c.defaultEncoding)
}

// CountForModel counts tokens for a specific model name.
func (c *Counter) CountForModel(text, model string) (int, error) {
	if !c.IsEnabled() {
		return 0, nil
	}
	return c.countForEncoding(text, EncodingForModel(model))
}

func (c *Counter) countForEncoding(text, encoding string) (int, error) {
	enc, err := c.getEncoding(encoding)
	if err != nil {
		return 0, err
	}
	return len(enc.Encode(text, nil, nil)), nil
}

// SetEnabled switches precise counting on or off at runtime.
func (c *Counter) SetEnabled(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.enabled = enabled
}

// IsEnabled reports whether precise counting is active.
func (c *Counter) IsEnabled() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.enabled
}
