package embedding

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"docrag/config"
	"docrag/internal/logging"
	"docrag/internal/metrics"
	"docrag/internal/port"
)

// ClientOptions tunes the per-item call policy of a Client.
type ClientOptions struct {
	Dimension     int
	Timeout       time.Duration
	MaxAttempts   int
	RetryInterval time.Duration
	Concurrency   int
}

// Client turns an EmbeddingService into a batch Embedder. Every text is
// embedded on its own; a text that cannot be embedded yields a nil entry
// at its position instead of failing the batch.
type Client struct {
	service port.EmbeddingService
	opts    ClientOptions
	logger  *zap.Logger
	metrics *metrics.Metrics
}

var _ port.Embedder = (*Client)(nil)

func NewClient(service port.EmbeddingService, opts ClientOptions, logger *zap.Logger, m *metrics.Metrics) *Client {
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	return &Client{
		service: service,
		opts:    opts,
		logger:  logging.OrNop(logger),
		metrics: m,
	}
}

// NewFromConfig builds the configured service and wraps it in a Client.
func NewFromConfig(cfg config.EmbeddingConfig, logger *zap.Logger, m *metrics.Metrics) (*Client, error) {
	var service port.EmbeddingService
	switch cfg.Provider {
	case "ollama", "":
		service = NewOllamaService(cfg.Model, cfg.BaseURL)
	case "openai":
		s, err := NewOpenAIService(cfg.APIKeyEnv, cfg.Model, cfg.BaseURL)
		if err != nil {
			return nil, err
		}
		service = s
	case "mock":
		service = NewMockService(cfg.Dimension)
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s", cfg.Provider)
	}

	return NewClient(service, ClientOptions{
		Dimension:     cfg.Dimension,
		Timeout:       cfg.Timeout,
		MaxAttempts:   cfg.MaxAttempts,
		RetryInterval: cfg.RetryInterval,
		Concurrency:   cfg.Concurrency,
	}, logger, m), nil
}

// Embed returns one entry per input text, in input order.
func (c *Client) Embed(ctx context.Context, texts []string) [][]float32 {
	out := make([][]float32, len(texts))
	if len(texts) == 0 {
		return out
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.opts.Concurrency)
	for i, text := range texts {
		g.Go(func() error {
			out[i] = c.embedItem(gctx, i, text)
			return nil
		})
	}
	_ = g.Wait()

	return out
}

// EmbedOne embeds a single text, typically a query.
func (c *Client) EmbedOne(ctx context.Context, text string) []float32 {
	return c.embedItem(ctx, 0, text)
}

func (c *Client) Dimension() int {
	return c.opts.Dimension
}

func (c *Client) ModelName() string {
	return c.service.ModelName()
}

func (c *Client) embedItem(ctx context.Context, index int, text string) []float32 {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	var vec []float32
	attempts := 0
	op := func() error {
		attempts++
		callCtx := ctx
		if c.opts.Timeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, c.opts.Timeout)
			defer cancel()
		}

		v, err := c.service.EmbedText(callCtx, text)
		if err != nil {
			return err
		}
		vec = v
		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(c.retryPolicy(), uint64(c.opts.MaxAttempts-1)),
		ctx,
	)
	if err := backoff.Retry(op, policy); err != nil {
		reason := "error"
		if errors.Is(err, context.DeadlineExceeded) {
			reason = "timeout"
		}
		c.metrics.EmbeddingFailed(reason)
		c.logger.Warn("embedding failed",
			zap.Int("item", index),
			zap.Int("attempts", attempts),
			zap.String("reason", reason),
			zap.Error(err),
		)
		return nil
	}

	if c.opts.Dimension > 0 && len(vec) != c.opts.Dimension {
		c.metrics.EmbeddingFailed("dimension")
		c.logger.Warn("embedding has wrong dimension",
			zap.Int("item", index),
			zap.Int("got", len(vec)),
			zap.Int("want", c.opts.Dimension),
		)
		return nil
	}

	return vec
}

func (c *Client) retryPolicy() backoff.BackOff {
	if c.opts.RetryInterval <= 0 {
		return &backoff.ZeroBackOff{}
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.opts.RetryInterval
	b.MaxElapsedTime = 0
	return b
}
