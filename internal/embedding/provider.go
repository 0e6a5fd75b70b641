// Package embedding converts text to fixed-length vectors for semantic
// ranking. Embeddings are an optional capability: every consumer must
// work without a Provider.
package embedding

import (
	"context"
	"fmt"
	"time"

	"github.com/HendryAvila/ctxengine/internal/ctxerr"
)

// Provider turns text into a vector. Implementations hold no per-call state
// and are safe for concurrent use.
type Provider interface {
	// Embed returns the vector for text.
	Embed(ctx context.Context, text string) ([]float32, error)
	// Model names the producing model. Vectors from different models are
	// never compared.
	Model() string
	// Dimensions is the vector length, 0 when unknown until the first call.
	Dimensions() int
	// IsAvailable reports whether Embed can currently succeed.
	IsAvailable(ctx context.Context) bool
}

// Options configures New.
type Options struct {
	Provider   string // none, hash, openai, google
	Model      string
	APIKey     string
	Dimensions int
	Timeout    time.Duration
}

// New builds the provider named by opts.Provider, wrapped with a timeout
// when one is set. It returns (nil, nil) for "none" or an empty name.
func New(ctx context.Context, opts Options) (Provider, error) {
	var (
		p   Provider
		err error
	)
	switch opts.Provider {
	case "", "none":
		return nil, nil
	case "hash":
		p = NewHash(opts.Dimensions)
	case "openai":
		p = NewOpenAI(opts.APIKey, WithModel(opts.Model), WithDimensions(opts.Dimensions))
	case "google":
		p, err = NewGoogle(ctx, opts.APIKey, WithModel(opts.Model))
	default:
		return nil, ctxerr.Validation("embedding.New", "unknown provider %q", opts.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("creating %s provider: %w", opts.Provider, err)
	}
	if opts.Timeout > 0 {
		p = WithTimeout(p, opts.Timeout)
	}
	return p, nil
}

// Available reports whether p is non-nil and available.
func Available(ctx context.Context, p Provider) bool {
	return p != nil && p.IsAvailable(ctx)
}

// Option configures remote providers.
type Option func(*remoteOptions)

type remoteOptions struct {
	model      string
	dimensions int
	baseURL    string
}

// WithModel overrides the default model name.
func WithModel(model string) Option {
	return func(o *remoteOptions) {
		if model != "" {
			o.model = model
		}
	}
}

// WithDimensions requests a specific output size where the API supports it.
func WithDimensions(n int) Option {
	return func(o *remoteOptions) {
		o.dimensions = n
	}
}

// WithBaseURL points the client at a compatible endpoint.
func WithBaseURL(url string) Option {
	return func(o *remoteOptions) {
		o.baseURL = url
	}
}

func newRemoteOptions(defaultModel string, opts ...Option) remoteOptions {
	o := remoteOptions{model: defaultModel}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
