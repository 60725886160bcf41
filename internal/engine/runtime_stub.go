//go:build !llama

package engine

// No-CGO stub compiled when the 'llama' build tag is not set. Every load fails
// with a dependency-unavailable error so default builds stay CGO-free.

// LlamaBuilt reports whether this binary carries the native runtime.
const LlamaBuilt = false

const unavailableMsg = "llama support not built (missing 'llama' build tag)"

type stubRuntime struct{}

// NewLlamaRuntime returns the native runtime. In this build it refuses to
// load models.
func NewLlamaRuntime(ctxSize, threads int) Runtime { return stubRuntime{} }

func (stubRuntime) Init()              {}
func (stubRuntime) SystemInfo() string { return "native runtime unavailable" }

func (stubRuntime) LoadModel(string) (Handle, error) {
	return 0, ErrDependencyUnavailable(unavailableMsg)
}
func (stubRuntime) NewContext(Handle) (Handle, error) {
	return 0, ErrDependencyUnavailable(unavailableMsg)
}
func (stubRuntime) NewBatch(int, int, int) (Handle, error) {
	return 0, ErrDependencyUnavailable(unavailableMsg)
}
func (stubRuntime) NewSampler() (Handle, error) {
	return 0, ErrDependencyUnavailable(unavailableMsg)
}

func (stubRuntime) FreeSampler(Handle) {}
func (stubRuntime) FreeBatch(Handle)   {}
func (stubRuntime) FreeContext(Handle) {}
func (stubRuntime) FreeModel(Handle)   {}

func (stubRuntime) CompletionInit(Handle, Handle, string, bool, int) (int, error) {
	return 0, ErrDependencyUnavailable(unavailableMsg)
}
func (stubRuntime) CompletionLoop(Handle, Handle, Handle, int, *int) (string, bool, error) {
	return "", false, ErrDependencyUnavailable(unavailableMsg)
}
func (stubRuntime) ClearCache(Handle) {}

func (stubRuntime) Bench(Handle, Handle, int, int, int, int) (string, error) {
	return "", ErrDependencyUnavailable(unavailableMsg)
}
