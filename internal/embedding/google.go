package embedding

import (
	"context"
	"errors"

	"github.com/google/generative-ai-go/genai"
	genaiopt "google.golang.org/api/option"
)

// DefaultGoogleModel is used when no model is configured.
const DefaultGoogleModel = "text-embedding-004"

// Google embeds text through the Gemini embedding API.
type Google struct {
	client *genai.Client
	opts   remoteOptions
}

// NewGoogle returns a Google provider. The client is created eagerly so a
// bad key surfaces at startup.
func NewGoogle(ctx context.Context, apiKey string, opts ...Option) (*Google, error) {
	if apiKey == "" {
		return nil, errors.New("google embeddings need an API key")
	}
	o := newRemoteOptions(DefaultGoogleModel, opts...)

	clientOpts := []genaiopt.ClientOption{genaiopt.WithAPIKey(apiKey)}
	if o.baseURL != "" {
		clientOpts = append(clientOpts, genaiopt.WithEndpoint(o.baseURL))
	}
	client, err := genai.NewClient(ctx, clientOpts...)
	if err != nil {
		return nil, err
	}
	return &Google{client: client, opts: o}, nil
}

// Embed implements Provider.
func (e *Google) Embed(ctx context.Context, text string) ([]float32, error) {
	model := e.client.EmbeddingModel(e.opts.model)
	rsp, err := model.EmbedContent(ctx, genai.Text(text))
	if err != nil {
		return nil, err
	}

	if rsp == nil || rsp.Embedding == nil || len(rsp.Embedding.Values) == 0 {
		return nil, errors.New("no embedding in Google response")
	}

	return rsp.Embedding.Values, nil
}

// Model implements Provider.
func (e *Google) Model() string { return e.opts.model }

// Dimensions implements Provider.
func (e *Google) Dimensions() int { return e.opts.dimensions }

// IsAvailable implements Provider.
func (e *Google) IsAvailable(context.Context) bool { return e.client != nil }

// Close releases the underlying client.
func (e *Google) Close() error {
	return e.client.Close()
}
