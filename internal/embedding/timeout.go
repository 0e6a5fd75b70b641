package embedding

import (
	"context"
	"io"
	"time"

	"github.com/HendryAvila/ctxengine/internal/ctxerr"
)

type timeoutProvider struct {
	Provider
	timeout time.Duration
}

// WithTimeout bounds every Embed call on p by d. Overruns fail with
// ProviderTimeout, other failures with SourceUnavailable.
func WithTimeout(p Provider, d time.Duration) Provider {
	return &timeoutProvider{Provider: p, timeout: d}
}

func (t *timeoutProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	vec, err := t.Provider.Embed(ctx, text)
	if err != nil {
		return nil, ctxerr.Provider("embedding.Embed", err)
	}
	return vec, nil
}

// Close closes the wrapped provider when it holds a client.
func (t *timeoutProvider) Close() error {
	if c, ok := t.Provider.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
