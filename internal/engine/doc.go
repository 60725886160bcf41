// Package engine owns the native text-generation runtime: one model, one
// context, one batch and one sampler, acquired together on Load and released
// together on Unload. It is split into small files by concern:
//
//   - engine.go: Engine type, Load/Unload state machine, Bench.
//   - generate.go: direct and speculative generation as fragment streams.
//   - runtime.go: the Runtime/Speculator binding contracts.
//   - errors.go: error kinds and helpers (IsNotLoaded, IsAlreadyLoaded, ...).
//
// Build tags and runtimes:
//
//   - In-process llama (standard):
//     Uses the go-llama.cpp binding. Enabled with `-tags=llama`.
//     Files: runtime_llama.go, llama_cgo.go (linker rpath hints).
//     A no-CGO stub exists when the tag is not set: runtime_stub.go.
//
// Every Runtime call happens on the engine's lane (package lane), never on a
// caller goroutine. External packages use the Engine methods only.
package engine
