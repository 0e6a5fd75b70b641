package embedding

import (
	"context"
	"errors"
	"net/http"

	"github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// DefaultOpenAIModel is used when no model is configured.
const DefaultOpenAIModel = string(openai.SmallEmbedding3)

// OpenAI embeds text through the OpenAI embeddings API.
type OpenAI struct {
	client *openai.Client
	apiKey string
	opts   remoteOptions
}

// NewOpenAI returns an OpenAI provider. With an empty key the provider
// reports itself unavailable.
func NewOpenAI(apiKey string, opts ...Option) *OpenAI {
	o := newRemoteOptions(DefaultOpenAIModel, opts...)
	cfg := openai.DefaultConfig(apiKey)
	if o.baseURL != "" {
		cfg.BaseURL = o.baseURL
	}
	cfg.HTTPClient = &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	return &OpenAI{
		client: openai.NewClientWithConfig(cfg),
		apiKey: apiKey,
		opts:   o,
	}
}

// Embed implements Provider.
func (e *OpenAI) Embed(ctx context.Context, text string) ([]float32, error) {
	rsp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input:      []string{text},
		Model:      openai.EmbeddingModel(e.opts.model),
		Dimensions: e.opts.dimensions,
	})
	if err != nil {
		return nil, err
	}

	if len(rsp.Data) == 0 || len(rsp.Data[0].Embedding) == 0 {
		return nil, errors.New("no embedding in OpenAI response")
	}

	return rsp.Data[0].Embedding, nil
}

// Model implements Provider.
func (e *OpenAI) Model() string { return e.opts.model }

// Dimensions implements Provider.
func (e *OpenAI) Dimensions() int { return e.opts.dimensions }

// IsAvailable implements Provider. It does not call the API.
func (e *OpenAI) IsAvailable(context.Context) bool { return e.apiKey != "" }
