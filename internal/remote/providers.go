package remote

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"llamachat/pkg/types"
)

// DeepSeek defaults.
const (
	DeepSeekURL   = "https://api.deepseek.com/chat/completions"
	DeepSeekModel = "deepseek-chat"
)

// QwenModel is sent when no model is configured for the Qwen endpoint.
const QwenModel = "qwen"

// countSeparator precedes the token count embedded in Qwen deltas.
const countSeparator = "\uFFFD"

// NewDeepSeek returns the DeepSeek provider. It requires an API key; every
// delta after the first counts as one token.
func NewDeepSeek(cfg Config) Source {
	if cfg.URL == "" {
		cfg.URL = DeepSeekURL
	}
	if cfg.Model == "" {
		cfg.Model = DeepSeekModel
	}
	return newChatSource(types.ProviderDeepSeek, cfg, true, unitDelta)
}

// NewQwen returns the Qwen provider: no credential, and each delta carries
// its token count after a U+FFFD separator.
func NewQwen(cfg Config) Source {
	if cfg.Model == "" {
		cfg.Model = QwenModel
	}
	return newChatSource(types.ProviderQwen, cfg, false, embeddedCountDelta)
}

func unitDelta(content string, first bool) (types.Fragment, error) {
	if first {
		return types.Fragment{Text: content}, nil
	}
	return types.Fragment{Text: content, Tokens: 1}, nil
}

func embeddedCountDelta(content string, first bool) (types.Fragment, error) {
	parts := strings.Split(content, countSeparator)
	if len(parts) < 2 {
		return types.Fragment{}, errors.New("token count missing")
	}
	n, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil || n < 0 {
		return types.Fragment{}, fmt.Errorf("token count %q: not a non-negative integer", parts[1])
	}
	if first {
		n = 0
	}
	return types.Fragment{Text: parts[0], Tokens: n}, nil
}
