package ai

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Router selects a provider per request, with an ordered fallback chain and
// per-task default models.
type Router struct {
	providers  map[string]Provider
	fallback   []string // ordered fallback chain
	taskModels map[TaskType]string
	mu         sync.RWMutex
}

// NewRouter creates a new AI router.
func NewRouter() *Router {
	return &Router{
		providers:  make(map[string]Provider),
		taskModels: make(map[TaskType]string),
	}
}

// Register adds a provider to the router.
func (r *Router) Register(name string, provider Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[name] = provider
	r.fallback = append(r.fallback, name)
}

// SetTaskModel pins a model for a task type. Requests for that task without
// an explicit model use it.
func (r *Router) SetTaskModel(task TaskType, model string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if model != "" {
		r.taskModels[task] = model
	}
}

// Complete routes a request through the fallback chain. If every provider
// fails, the last error is returned so the caller can still distinguish
// rate limiting from other failures.
func (r *Router) Complete(ctx context.Context, req CompletionRequest) (CompletionResponse, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if req.Model == "" {
		req.Model = r.taskModels[req.Task]
	}

	if len(r.fallback) == 0 {
		return CompletionResponse{}, fmt.Errorf("no AI providers registered")
	}

	var lastErr error
	for _, name := range r.fallback {
		provider := r.providers[name]

		resp, err := provider.Complete(ctx, req)
		if err != nil {
			slog.Warn("AI provider failed, trying next",
				"provider", name,
				"task", req.Task.String(),
				"error", err,
			)
			// Keep the transient error around: if everything fails, a
			// rate-limit result is more actionable than the last 500.
			if lastErr == nil || IsTransient(err) {
				lastErr = err
			}
			continue
		}

		slog.Debug("AI request completed",
			"provider", name,
			"task", req.Task.String(),
			"model", resp.Model,
			"input_tokens", resp.InputTokens,
			"output_tokens", resp.OutputTokens,
		)
		return resp, nil
	}

	return CompletionResponse{}, fmt.Errorf("all AI providers failed: %w", lastErr)
}

// HasProvider returns true if at least one provider is registered.
func (r *Router) HasProvider() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.providers) > 0
}
