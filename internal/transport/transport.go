// Package transport performs the actual provider calls. It is the boundary
// where loosely structured provider errors are normalized into
// classify.ErrorData; nothing downstream inspects raw provider payloads.
package transport

import (
	"context"
	"fmt"
	"sync"

	"github.com/af-corp/conduit/internal/classify"
)

// Request is the canonical representation of an outbound inference call.
type Request struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	System      string    `json:"system,omitempty"`
	MaxTokens   *int      `json:"max_tokens,omitempty"`
	Temperature *float64  `json:"temperature,omitempty"`
	TopP        *float64  `json:"top_p,omitempty"`
	Stop        []string  `json:"stop,omitempty"`
}

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Response is the canonical provider response.
type Response struct {
	Model        string `json:"model"`
	Provider     string `json:"provider"`
	Content      string `json:"content"`
	FinishReason string `json:"finish_reason"`
	Usage        Usage  `json:"usage"`
}

type Usage struct {
	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	TotalTokens      int     `json:"total_tokens"`
	CostUSD          float64 `json:"cost_usd,omitempty"`
}

// ModelInfo describes one entry of a provider's model catalog.
type ModelInfo struct {
	ID      string `json:"id"`
	Created int64  `json:"created,omitempty"`
	OwnedBy string `json:"owned_by,omitempty"`
}

// Client performs a remote inference call. Implementations must return
// *APIError for provider-reported failures so retry classification sees
// structured error data.
type Client interface {
	Name() string
	Do(ctx context.Context, req *Request) (*Response, error)
	ListModels(ctx context.Context) ([]ModelInfo, error)
}

// APIError carries the normalized error data for a failed provider call.
type APIError struct {
	Data classify.ErrorData
}

func (e *APIError) Error() string {
	if e.Data.Code != "" {
		return fmt.Sprintf("provider error %d (%s)", e.Data.StatusCode, e.Data.Code)
	}
	return fmt.Sprintf("provider error %d: %s", e.Data.StatusCode, e.Data.Message)
}

// Registry maps provider names to clients.
type Registry struct {
	mu      sync.RWMutex
	clients map[string]Client
}

func NewRegistry() *Registry {
	return &Registry{clients: make(map[string]Client)}
}

func (r *Registry) Register(name string, c Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[name] = c
}

func (r *Registry) Get(name string) (Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clients[name]
	return c, ok
}

// Replace swaps the entire client set under the registry's lock, so a
// config reload never copies the registry (and its mutex) over readers.
// Clients handed out by earlier Get calls keep working.
func (r *Registry) Replace(clients map[string]Client) {
	if clients == nil {
		clients = make(map[string]Client)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients = clients
}

// Names returns the registered provider names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.clients))
	for name := range r.clients {
		names = append(names, name)
	}
	return names
}
