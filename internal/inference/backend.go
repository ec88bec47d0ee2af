package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/agora-labs/agora/internal/config"
)

const defaultTimeout = 120 * time.Second

// Message is one entry of the conversation sent to a backend.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Backend is one registered generation worker, reached over an
// OpenAI-compatible chat completions API.
type Backend struct {
	name     string
	apiBase  string
	model    string
	capacity int64
	index    int

	client  *http.Client
	limiter *rate.Limiter

	inflight  atomic.Int64
	healthy   atomic.Bool
	lastProbe atomic.Int64 // unix nanos of the latest probe
}

// NewBackend builds a backend from config. index is the registration order,
// used as the final selection tie-break.
func NewBackend(cfg config.BackendConfig, index int) *Backend {
	timeout := defaultTimeout
	if cfg.TimeoutSec > 0 {
		timeout = time.Duration(cfg.TimeoutSec) * time.Second
	}
	var limiter *rate.Limiter
	if cfg.RPM > 0 {
		limiter = rate.NewLimiter(rate.Limit(float64(cfg.RPM)/60), cfg.RPM)
	}
	name := cfg.Name
	if name == "" {
		name = fmt.Sprintf("backend-%d", index)
	}
	return &Backend{
		name:     name,
		apiBase:  strings.TrimRight(cfg.URL, "/"),
		model:    cfg.Model,
		capacity: int64(cfg.Capacity),
		index:    index,
		client:   &http.Client{Timeout: timeout},
		limiter:  limiter,
	}
}

// Name returns the backend identifier.
func (b *Backend) Name() string { return b.name }

// Healthy reports the last probe outcome.
func (b *Backend) Healthy() bool { return b.healthy.Load() }

// Inflight returns the number of requests currently outstanding.
func (b *Backend) Inflight() int64 { return b.inflight.Load() }

// SinceProbe returns how long ago the backend was last probed.
func (b *Backend) SinceProbe() time.Duration {
	return time.Duration(time.Now().UnixNano() - b.lastProbe.Load())
}

// Probe checks readiness against the models endpoint and records the result.
func (b *Backend) Probe(ctx context.Context) bool {
	b.lastProbe.Store(time.Now().UnixNano())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.apiBase+"/models", nil)
	if err != nil {
		b.healthy.Store(false)
		return false
	}
	resp, err := b.client.Do(req)
	if err != nil {
		b.healthy.Store(false)
		return false
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	ok := resp.StatusCode >= 200 && resp.StatusCode < 300
	b.healthy.Store(ok)
	return ok
}

type chatRequest struct {
	Model    string    `json:"model,omitempty"`
	Messages []Message `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Chat forwards one message sequence and returns the generated text.
func (b *Backend) Chat(ctx context.Context, messages []Message) (string, error) {
	if b.limiter != nil {
		if err := b.limiter.Wait(ctx); err != nil {
			return "", err
		}
	}

	body, err := json.Marshal(chatRequest{Model: b.model, Messages: messages})
	if err != nil {
		return "", fmt.Errorf("%s: encode request: %w", b.name, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.apiBase+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%s: %w", b.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("%s: status %d: %s", b.name, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("%s: decode response: %w", b.name, err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("%s: empty choices", b.name)
	}
	return parsed.Choices[0].Message.Content, nil
}
