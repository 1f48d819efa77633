package ai

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/stratochat/stratochat/internal/models"
)

type ProviderFactory func(ctx context.Context, m *models.Model) (Provider, error)

// Registry routes a Model record to a provider implementation by its
// integration type.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]ProviderFactory
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]ProviderFactory)}
}

func (r *Registry) Register(integrationType string, f ProviderFactory) {
	integrationType = strings.ToLower(strings.TrimSpace(integrationType))
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[integrationType] = f
}

func (r *Registry) Get(ctx context.Context, m *models.Model) (Provider, error) {
	key := strings.ToLower(strings.TrimSpace(m.IntegrationType))
	r.mu.RLock()
	f, ok := r.factories[key]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown integration type: %s", m.IntegrationType)
	}
	return f(ctx, m)
}
