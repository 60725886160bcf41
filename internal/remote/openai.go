package remote

import (
	"context"
	"errors"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"llamachat/internal/stream"
	"llamachat/pkg/types"
)

// OpenAIModel is used when no model is configured.
const OpenAIModel = "gpt-4o-mini"

// openAISource talks to any OpenAI-compatible endpoint through the official
// SDK. Token accounting matches DeepSeek: 0 for the first delta, then 1.
type openAISource struct {
	cfg    Config
	client openai.Client
}

// NewOpenAI returns the OpenAI-compatible provider. cfg.URL is the API base
// URL (default https://api.openai.com/v1/).
func NewOpenAI(cfg Config) Source {
	cfg.applyDefaults()
	if cfg.Model == "" {
		cfg.Model = OpenAIModel
	}
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithHTTPClient(newHTTPClient(cfg)),
		option.WithMaxRetries(0),
	}
	if cfg.URL != "" {
		opts = append(opts, option.WithBaseURL(cfg.URL))
	}
	cfg.Logger = cfg.Logger.With().Str("provider", string(types.ProviderOpenAI)).Logger()
	return &openAISource{cfg: cfg, client: openai.NewClient(opts...)}
}

func (s *openAISource) Provider() types.Provider { return types.ProviderOpenAI }

func (s *openAISource) Stream(ctx context.Context, system, prompt string) *stream.Stream {
	return stream.Start(ctx, s.cfg.StreamBuffer, func(ctx context.Context, emit func(types.Fragment) error) error {
		err := s.run(ctx, system, prompt, emit)
		requestsTotal.WithLabelValues(string(types.ProviderOpenAI), outcome(ctx, err)).Inc()
		return err
	})
}

func (s *openAISource) run(ctx context.Context, system, prompt string, emit func(types.Fragment) error) error {
	if strings.TrimSpace(s.cfg.APIKey) == "" {
		return &Error{Kind: KindUnauthenticated, Provider: types.ProviderOpenAI}
	}
	params := openai.ChatCompletionNewParams{
		Model: s.cfg.Model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(system),
			openai.UserMessage(prompt),
		},
	}
	st := s.client.Chat.Completions.NewStreaming(ctx, params)
	defer st.Close()

	first, received := true, false
	for st.Next() {
		received = true
		chunk := st.Current()
		if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == "" {
			continue
		}
		f := types.Fragment{Text: chunk.Choices[0].Delta.Content, Tokens: 1}
		if first {
			f.Tokens = 0
			first = false
		}
		if err := emit(f); err != nil {
			return err
		}
	}
	err := st.Err()
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		s.cfg.Logger.Warn().Int("status", apiErr.StatusCode).Msg("remote API error")
		return &Error{Kind: KindHTTP, Provider: types.ProviderOpenAI, Status: apiErr.StatusCode, Body: apiErr.Message, Err: err}
	}
	if received {
		return &Error{Kind: KindBodyRead, Provider: types.ProviderOpenAI, Err: err}
	}
	return &Error{Kind: KindNetwork, Provider: types.ProviderOpenAI, Err: err}
}
