package types

// SendRequest is the payload for POST /send.
type SendRequest struct {
	// Prompt text. When empty, the current input value is used.
	// example: Write a haiku about the ocean.
	Text string `json:"text" example:"Write a haiku about the ocean."`
}

// SendResponse identifies the turn that was started.
type SendResponse struct {
	TurnID string `json:"turn_id"`
}

// LoadRequest is the payload for POST /load.
type LoadRequest struct {
	// Model id from the registry; ignored when Path is set.
	Model string `json:"model,omitempty"`
	// Absolute path to a fully materialized model file.
	Path string `json:"path,omitempty"`
	// Load as the draft model for speculative decoding.
	Speculative bool `json:"speculative,omitempty"`
}

// RemoteRequest is the payload for POST /remote.
type RemoteRequest struct {
	// example: deepseek
	Provider string `json:"provider" example:"deepseek"`
}

// BenchRequest is the payload for POST /bench.
type BenchRequest struct {
	PromptTokens int `json:"pp"`
	GenTokens    int `json:"tg"`
	Parallel     int `json:"pl"`
	Repeats      int `json:"nr,omitempty"`
}

// InputRequest is the payload for PUT /input.
type InputRequest struct {
	Text string `json:"text"`
}

// SessionResponse is the presentation snapshot returned by GET /session.
type SessionResponse struct {
	Messages []Message `json:"messages"`
	Input    string    `json:"input"`
	// Tokens per second; 0 means not yet measured.
	Throughput float64    `json:"throughput"`
	Mode       Mode       `json:"mode"`
	Turn       *TurnState `json:"turn,omitempty"`
	EngineInfo string     `json:"engine_info,omitempty"`
}

// TurnState summarizes the most recent turn.
type TurnState struct {
	ID     string     `json:"id"`
	Status TurnStatus `json:"status"`
	Error  string     `json:"error,omitempty"`
}

// ModelsResponse wraps the list of models returned by GET /models.
type ModelsResponse struct {
	Models []Model `json:"models"`
}

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	// example: invalid JSON body
	Error string `json:"error" example:"invalid JSON body"`
	// example: 400
	Code int `json:"code" example:"400"`
}
