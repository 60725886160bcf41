package httpapi

import (
	"errors"

	"llamachat/internal/engine"
)

// failingRuntime is a minimal engine.Runtime; with failModel set every
// model load fails.
type failingRuntime struct{ failModel bool }

func (failingRuntime) Init()              {}
func (failingRuntime) SystemInfo() string { return "test" }
func (r failingRuntime) LoadModel(string) (engine.Handle, error) {
	if r.failModel {
		return 0, errors.New("bad magic")
	}
	return 1, nil
}
func (failingRuntime) NewContext(engine.Handle) (engine.Handle, error) { return 2, nil }
func (failingRuntime) NewBatch(int, int, int) (engine.Handle, error)   { return 3, nil }
func (failingRuntime) NewSampler() (engine.Handle, error)              { return 4, nil }
func (failingRuntime) FreeSampler(engine.Handle)                       {}
func (failingRuntime) FreeBatch(engine.Handle)                         {}
func (failingRuntime) FreeContext(engine.Handle)                       {}
func (failingRuntime) FreeModel(engine.Handle)                         {}
func (failingRuntime) ClearCache(engine.Handle)                        {}
func (failingRuntime) CompletionInit(engine.Handle, engine.Handle, string, bool, int) (int, error) {
	return 0, nil
}
func (failingRuntime) CompletionLoop(engine.Handle, engine.Handle, engine.Handle, int, *int) (string, bool, error) {
	return "", false, nil
}
func (failingRuntime) Bench(engine.Handle, engine.Handle, int, int, int, int) (string, error) {
	return "", nil
}
