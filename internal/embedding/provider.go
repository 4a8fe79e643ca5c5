package embedding

import (
	"context"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/hyperjump/chishiki/internal/vector"
)

// Provider kinds.
const (
	KindLocal  = "local"
	KindRemote = "remote"
	KindONNX   = "onnx"
)

// fallbackAPIKeyEnv is consulted when the configured key variable is
// empty or unset.
const fallbackAPIKeyEnv = "OPENAI_API_KEY"

// ProviderOptions selects and configures the underlying embedder.
type ProviderOptions struct {
	Kind       string
	Model      string
	BaseURL    string
	APIKeyEnv  string
	Dimensions int
	ModelPath  string
	MaxTokens  int
	CacheSize  int
}

// Provider is the embedding frontend used by the rest of the system.
// It resolves the configured backend once, puts an LRU cache in front
// of dense embeds, and always has a working sparse embedder.
type Provider struct {
	embedder   Embedder
	sparse     SparseEmbedder
	cache      *Cache
	kind       string
	model      string
	dimensions int
	logger     *zap.Logger
}

// ProviderOption configures a Provider.
type ProviderOption func(*Provider)

// WithLogger sets the logger used for fallback warnings.
func WithLogger(logger *zap.Logger) ProviderOption {
	return func(p *Provider) { p.logger = logger }
}

// NewProvider builds a provider from options, constructing the backing
// embedder through the registry so concurrent callers share one model.
// A remote provider without an API key and an ONNX provider that fails
// to load both degrade to the local embedder rather than failing.
func NewProvider(opts ProviderOptions, registry *Registry, providerOpts ...ProviderOption) (*Provider, error) {
	if registry == nil {
		return nil, fmt.Errorf("embedding registry is required")
	}

	p := &Provider{
		sparse: NewHashedSparse(),
		cache:  NewCache(opts.CacheSize),
		logger: zap.NewNop(),
	}
	for _, opt := range providerOpts {
		opt(p)
	}

	kind := strings.ToLower(strings.TrimSpace(opts.Kind))
	if kind == "" {
		kind = KindLocal
	}

	if kind == KindRemote {
		if apiKeyFor(opts.APIKeyEnv) == "" {
			p.logger.Debug("no API key found for remote embeddings, using local embedder",
				zap.String("api_key_env", opts.APIKeyEnv))
			kind = KindLocal
		}
	}

	dimensions := resolveDimensions(kind, opts.Model, opts.Dimensions)

	switch kind {
	case KindRemote:
		embedder, err := registry.Get(registryKey(kind, opts.Model), func() (Embedder, error) {
			return NewRemoteEmbedder(opts.BaseURL, apiKeyFor(opts.APIKeyEnv), opts.Model, dimensions), nil
		})
		if err != nil {
			return nil, err
		}
		p.embedder = embedder
	case KindONNX:
		embedder, err := registry.Get(registryKey(kind, opts.ModelPath), func() (Embedder, error) {
			return NewONNXEmbedder(opts.ModelPath, dimensions, opts.MaxTokens)
		})
		if err != nil {
			p.logger.Warn("failed to load ONNX model, using local embedder",
				zap.String("model_path", opts.ModelPath), zap.Error(err))
			kind = KindLocal
			dimensions = resolveDimensions(kind, opts.Model, opts.Dimensions)
		} else {
			p.embedder = embedder
		}
	case KindLocal:
	default:
		return nil, fmt.Errorf("unknown embedding provider: %q", opts.Kind)
	}

	if p.embedder == nil {
		embedder, err := registry.Get(registryKey(KindLocal, opts.Model), func() (Embedder, error) {
			return NewLocalEmbedder(dimensions), nil
		})
		if err != nil {
			return nil, err
		}
		p.embedder = embedder
	}

	p.kind = kind
	p.model = opts.Model
	p.dimensions = dimensions
	return p, nil
}

// EmbedDense returns the dense embedding for text, consulting the LRU
// cache first.
func (p *Provider) EmbedDense(ctx context.Context, text string) ([]float32, error) {
	if cached, ok := p.cache.Get(text); ok {
		return cached, nil
	}
	emb, err := p.embedder.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	p.cache.Set(text, emb)
	return emb, nil
}

// EmbedSparse returns the sparse lexical embedding for text.
func (p *Provider) EmbedSparse(text string) vector.SparseVector {
	return p.sparse.EmbedSparse(text)
}

// Dimensions returns the dense embedding dimension.
func (p *Provider) Dimensions() int {
	return p.dimensions
}

// Kind returns the resolved provider kind after any fallback.
func (p *Provider) Kind() string {
	return p.kind
}

func registryKey(kind, model string) string {
	return kind + ":" + model
}

func apiKeyFor(env string) string {
	if env != "" {
		if key := os.Getenv(env); key != "" {
			return key
		}
	}
	return os.Getenv(fallbackAPIKeyEnv)
}

// resolveDimensions picks the embedding dimension. An explicit
// configuration wins; otherwise the model name decides, defaulting to
// the common remote dimension.
func resolveDimensions(kind, model string, configured int) int {
	if configured > 0 {
		return configured
	}
	name := strings.ToLower(model)
	switch {
	case strings.Contains(name, "nomic"):
		return 768
	case strings.Contains(name, "minilm"):
		return 384
	case kind == KindLocal:
		return 384
	default:
		return 1536
	}
}
