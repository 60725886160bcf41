package engine

// Handle is an opaque reference to a native resource. Zero is never valid.
type Handle uintptr

// Runtime is the native binding. Implementations are not reentrant and keep
// thread-local state; the Engine only ever calls them from its lane.
type Runtime interface {
	// Init initializes the backend. Called once, on the lane, before any
	// other method.
	Init()
	SystemInfo() string

	LoadModel(path string) (Handle, error)
	NewContext(model Handle) (Handle, error)
	NewBatch(nTokens, embd, nSeqMax int) (Handle, error)
	NewSampler() (Handle, error)

	FreeSampler(sampler Handle)
	FreeBatch(batch Handle)
	FreeContext(ctx Handle)
	FreeModel(model Handle)

	// CompletionInit tokenizes text, decodes the prompt and returns the
	// initial cursor (number of prompt tokens in the batch).
	CompletionInit(ctx, batch Handle, text string, formatChat bool, nLen int) (int, error)
	// CompletionLoop samples and decodes one token. It returns the decoded
	// piece (possibly empty while a multi-byte rune is incomplete) and
	// advances *cur. ok is false on end-of-generation or once *cur == nLen.
	CompletionLoop(ctx, batch, sampler Handle, nLen int, cur *int) (piece string, ok bool, err error)
	// ClearCache drops the incremental decode (KV) cache.
	ClearCache(ctx Handle)

	// Bench runs a prompt-processing / text-generation benchmark and
	// returns a human-readable report.
	Bench(ctx, batch Handle, pp, tg, pl, nr int) (string, error)
}

// Speculator drives speculative decoding against a remote verifier. Like
// Runtime it is only called from the lane.
type Speculator interface {
	// Init decodes the prompt into the draft context, connects to endpoint
	// and sends the prefill. Returns the initial cursor.
	Init(ctx, batch Handle, text string, formatChat bool, nLen int, endpoint string) (int, error)
	// Loop runs one draft/verify round; same contract as CompletionLoop.
	Loop(ctx Handle, nLen int, cur *int) (piece string, ok bool, err error)
	// Cleanup releases connection state. Idempotent.
	Cleanup()
}
