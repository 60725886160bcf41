package types

import "fmt"

// Model represents a loadable GGUF artifact on disk.
type Model struct {
	// Stable identifier for the model (the file name).
	// example: qwen2.5-0.5b-instruct-q4_k_m.gguf
	ID string `json:"id" example:"qwen2.5-0.5b-instruct-q4_k_m.gguf"`
	// Absolute path to the model file on disk.
	// example: /home/user/models/qwen2.5-0.5b-instruct-q4_k_m.gguf
	Path string `json:"path" example:"/home/user/models/qwen2.5-0.5b-instruct-q4_k_m.gguf"`
	// File size in bytes.
	SizeBytes int64 `json:"size_bytes"`
}

// Fragment is one incremental unit of generated text plus the number of
// tokens decoded since the previous fragment. The first fragment of a turn
// always carries Tokens == 0.
type Fragment struct {
	Text   string `json:"text"`
	Tokens int    `json:"tokens"`
}

// Role identifies who authored a transcript entry.
type Role string

const (
	RoleUser   Role = "user"
	RoleSystem Role = "system"
)

// Image is an attachment handed over by the image preprocessing
// collaborator. The coordinator never inspects the bytes.
type Image struct {
	MIME string `json:"mime"`
	Data []byte `json:"data"`
}

// Message is one transcript entry.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
	Image   *Image `json:"image,omitempty"`
}

// Provider names a remote chat-completion API.
type Provider string

const (
	ProviderDeepSeek Provider = "deepseek"
	ProviderQwen     Provider = "qwen"
	ProviderOpenAI   Provider = "openai"
)

// ParseProvider validates a provider name.
func ParseProvider(s string) (Provider, error) {
	switch p := Provider(s); p {
	case ProviderDeepSeek, ProviderQwen, ProviderOpenAI:
		return p, nil
	default:
		return "", fmt.Errorf("unknown provider: %q", s)
	}
}

// ModeKind enumerates the generation sources.
type ModeKind string

const (
	ModeLocal       ModeKind = "local"
	ModeRemote      ModeKind = "remote"
	ModeSpeculative ModeKind = "speculative"
)

// Mode is the active generation source. Provider is set only for ModeRemote.
type Mode struct {
	Kind     ModeKind `json:"kind"`
	Provider Provider `json:"provider,omitempty"`
}

func (m Mode) String() string {
	if m.Kind == ModeRemote {
		return string(m.Kind) + "(" + string(m.Provider) + ")"
	}
	return string(m.Kind)
}

// TurnStatus is the terminal status of a turn.
type TurnStatus string

const (
	TurnRunning   TurnStatus = "running"
	TurnCompleted TurnStatus = "completed"
	TurnFailed    TurnStatus = "failed"
	TurnCancelled TurnStatus = "cancelled"
)
