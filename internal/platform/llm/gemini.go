package llm

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"

	domain "github.com/adperception/survey/internal/domain"
	"github.com/adperception/survey/internal/platform/config"
)

const geminiProvider = "gemini"

type geminiClient struct {
	opts        options
	client      *genai.Client
	model       string
	temperature float64
	maxRetries  int
}

func newGeminiClient(ctx context.Context, cfg config.GenerationConfig, o options) (*geminiClient, error) {
	clientCfg := &genai.ClientConfig{
		APIKey:     cfg.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: o.httpClient,
	}
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		clientCfg.HTTPOptions = genai.HTTPOptions{BaseURL: base}
	}
	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}
	return &geminiClient{
		opts:        o,
		client:      client,
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxRetries:  cfg.MaxRetries,
	}, nil
}

func (c *geminiClient) Generate(ctx context.Context, req domain.GenerationRequest) (string, error) {
	genCfg := &genai.GenerateContentConfig{}
	if req.System != "" {
		genCfg.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}
	if req.JSONOutput {
		genCfg.ResponseMIMEType = "application/json"
	}
	if c.temperature > 0 {
		t := float32(c.temperature)
		genCfg.Temperature = &t
	}

	return withRetry(ctx, c.opts, geminiProvider, c.maxRetries, func(ctx context.Context) (string, error) {
		resp, err := c.client.Models.GenerateContent(ctx, c.model, genai.Text(req.Prompt), genCfg)
		if err != nil {
			return "", err
		}
		text := resp.Text()
		if strings.TrimSpace(text) == "" {
			return "", ErrEmptyResponse
		}
		return text, nil
	})
}

func (c *geminiClient) Close() error { return nil }
