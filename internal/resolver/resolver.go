// Package resolver discovers which models a credential can use and picks the
// working model, caching the result per credential.
package resolver

import (
	"context"
	"strings"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/topic-cli/pkg/gemini"
)

var (
	// ErrDiscoveryFailed wraps any failure of the model listing call.
	ErrDiscoveryFailed = eris.New("resolver: model discovery failed")
	// ErrNoCapableModel means no listed model supports content generation.
	ErrNoCapableModel = eris.New("resolver: no model supports content generation")
)

// DiscoveryError reports a failed model listing. It matches
// ErrDiscoveryFailed and unwraps to the client error.
type DiscoveryError struct {
	Err error
}

func (e *DiscoveryError) Error() string {
	return ErrDiscoveryFailed.Error() + ": " + e.Err.Error()
}

func (e *DiscoveryError) Unwrap() error { return e.Err }

// Is matches ErrDiscoveryFailed.
func (e *DiscoveryError) Is(target error) bool { return target == ErrDiscoveryFailed }

const (
	flashMarker  = "flash"
	proMarker    = "pro"
	visionMarker = "vision"
)

// Select returns the generation-capable model IDs ranked by preference:
// flash-class first, then pro-class excluding vision variants, then the rest,
// each group in discovery order. The first entry is the working model.
func Select(models []gemini.Model) ([]string, error) {
	var flash, pro, rest []string
	seen := make(map[string]bool, len(models))
	for _, m := range models {
		if !m.SupportsGeneration() {
			continue
		}
		id := m.ID()
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true

		switch {
		case strings.Contains(id, flashMarker):
			flash = append(flash, id)
		case strings.Contains(id, proMarker) && !strings.Contains(id, visionMarker):
			pro = append(pro, id)
		default:
			rest = append(rest, id)
		}
	}

	ranked := make([]string, 0, len(flash)+len(pro)+len(rest))
	ranked = append(ranked, flash...)
	ranked = append(ranked, pro...)
	ranked = append(ranked, rest...)
	if len(ranked) == 0 {
		return nil, ErrNoCapableModel
	}
	return ranked, nil
}

// Resolver caches the working model for one credential at a time. Changing
// the credential discards the cache.
type Resolver struct {
	client gemini.Client
	pinned string

	mu         sync.Mutex
	credential string
	candidates []string
	resolved   bool
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithPinnedModel skips discovery and always uses model.
func WithPinnedModel(model string) Option {
	return func(r *Resolver) {
		r.pinned = strings.TrimPrefix(strings.TrimSpace(model), "models/")
	}
}

// New creates a Resolver backed by client.
func New(client gemini.Client, opts ...Option) *Resolver {
	r := &Resolver{client: client}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Resolve returns the working model for credential, running discovery only
// when nothing is cached for it.
func (r *Resolver) Resolve(ctx context.Context, credential string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.resolved && r.credential == credential {
		if len(r.candidates) == 0 {
			return "", ErrNoCapableModel
		}
		return r.candidates[0], nil
	}
	return r.resolveLocked(ctx, credential)
}

func (r *Resolver) resolveLocked(ctx context.Context, credential string) (string, error) {
	r.credential = credential
	r.resolved = false
	r.candidates = nil

	if r.pinned != "" {
		r.candidates = []string{r.pinned}
		r.resolved = true
		return r.pinned, nil
	}

	models, err := r.client.ListModels(ctx, credential)
	if err != nil {
		return "", &DiscoveryError{Err: eris.Wrap(err, "list models")}
	}

	ranked, err := Select(models)
	if err != nil {
		return "", err
	}

	r.candidates = ranked
	r.resolved = true
	zap.L().Info("resolver: working model selected",
		zap.String("model", ranked[0]),
		zap.Int("eligible", len(ranked)),
		zap.Int("discovered", len(models)),
	)
	return ranked[0], nil
}

// MarkUnavailable drops model from the candidates of credential and returns
// the next working model. ErrNoCapableModel means none is left.
func (r *Resolver) MarkUnavailable(ctx context.Context, credential, model string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.resolved || r.credential != credential {
		if _, err := r.resolveLocked(ctx, credential); err != nil {
			return "", err
		}
	}

	kept := r.candidates[:0]
	for _, c := range r.candidates {
		if c != model {
			kept = append(kept, c)
		}
	}
	r.candidates = kept

	if len(r.candidates) == 0 {
		// Rediscover on the next Resolve.
		r.resolved = false
		return "", ErrNoCapableModel
	}
	zap.L().Warn("resolver: model unavailable, falling back",
		zap.String("unavailable", model),
		zap.String("next", r.candidates[0]),
	)
	return r.candidates[0], nil
}

// Candidates returns the ranked eligible models for the cached credential.
func (r *Resolver) Candidates() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.candidates...)
}

// Invalidate forgets the cached resolution.
func (r *Resolver) Invalidate() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.credential = ""
	r.candidates = nil
	r.resolved = false
}
