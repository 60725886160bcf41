// Command llamachat serves one chat session over HTTP, backed by a local
// llama.cpp engine, a speculative draft/verify pair or a remote
// chat-completion API.
package main

import (
	"fmt"
	"os"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := buildRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
