package search

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/cloudwego/eino/components/embedding"
	chromem "github.com/philippgille/chromem-go"

	einoollama "github.com/cloudwego/eino-ext/components/embedding/ollama"
	einoopenai "github.com/cloudwego/eino-ext/components/embedding/openai"

	"github.com/dohr-michael/skillhub/internal/config"
)

// NewEmbedder creates an Eino Embedder from the embedding config.
// Supported drivers: "openai", "ollama". An empty driver returns nil,
// which disables the similarity search mode.
func NewEmbedder(ctx context.Context, cfg config.EmbeddingConfig) (embedding.Embedder, error) {
	switch strings.ToLower(cfg.Driver) {
	case "":
		return nil, nil
	case "openai":
		return newOpenAIEmbedder(ctx, cfg)
	case "ollama":
		return newOllamaEmbedder(ctx, cfg)
	default:
		return nil, fmt.Errorf("unsupported embedding driver %q (supported: openai, ollama)", cfg.Driver)
	}
}

func newOpenAIEmbedder(ctx context.Context, cfg config.EmbeddingConfig) (embedding.Embedder, error) {
	apiKey := resolveEmbeddingAuth(cfg)
	if apiKey == "" {
		return nil, fmt.Errorf("openai embedding: API key not configured (set auth.api_key or OPENAI_API_KEY)")
	}

	ecfg := &einoopenai.EmbeddingConfig{
		APIKey: apiKey,
		Model:  cfg.Model,
	}
	if cfg.BaseURL != "" {
		ecfg.BaseURL = cfg.BaseURL
	}
	if cfg.Dims > 0 {
		dims := cfg.Dims
		ecfg.Dimensions = &dims
	}
	return einoopenai.NewEmbedder(ctx, ecfg)
}

func newOllamaEmbedder(ctx context.Context, cfg config.EmbeddingConfig) (embedding.Embedder, error) {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}

	ecfg := &einoollama.EmbeddingConfig{
		BaseURL: baseURL,
		Model:   cfg.Model,
	}
	return einoollama.NewEmbedder(ctx, ecfg)
}

// resolveEmbeddingAuth resolves the API key for the embedding provider.
// Resolution order: direct api_key (with ${VAR} indirection) then OPENAI_API_KEY.
func resolveEmbeddingAuth(cfg config.EmbeddingConfig) string {
	key := strings.TrimSpace(cfg.Auth.APIKey)
	if key != "" {
		if strings.HasPrefix(key, "${") && strings.HasSuffix(key, "}") {
			return os.Getenv(key[2 : len(key)-1])
		}
		return key
	}
	switch strings.ToLower(cfg.Driver) {
	case "openai":
		return os.Getenv("OPENAI_API_KEY")
	default:
		return ""
	}
}

// BridgeEmbedder converts an Eino Embedder ([][]float64) to a chromem-go
// EmbeddingFunc ([]float32).
func BridgeEmbedder(ctx context.Context, embedder embedding.Embedder) chromem.EmbeddingFunc {
	return func(embedCtx context.Context, text string) ([]float32, error) {
		// Use the parent context if the embed context is background
		if embedCtx == context.Background() {
			embedCtx = ctx
		}
		vectors, err := embedder.EmbedStrings(embedCtx, []string{text})
		if err != nil {
			return nil, fmt.Errorf("embed text: %w", err)
		}
		if len(vectors) == 0 || len(vectors[0]) == 0 {
			return nil, fmt.Errorf("embed text: empty result")
		}

		f64 := vectors[0]
		f32 := make([]float32, len(f64))
		for i, v := range f64 {
			f32[i] = float32(v)
		}
		return f32, nil
	}
}
