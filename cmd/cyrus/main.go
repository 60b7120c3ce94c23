// Package main provides the Cyrus CLI entry point: the edge worker that
// connects issue trackers and chat surfaces to coding-agent subprocesses
// (spec §1, §6).
//
// Usage:
//
//	cyrus start
//	cyrus auth
//	cyrus set-customer-id <id>
//	cyrus check-tokens
//	cyrus prompts create|edit|delete
package main

import (
	"log/slog"
	"os"
)

// version is set at build time via -ldflags.
var version = "dev"

// Exit codes (spec §6 "Exit codes: 0 success; 1 user error; 2 system error").
const (
	exitUserError   = 1
	exitSystemError = 2
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})))

	root := buildRootCmd()
	if err := root.Execute(); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(exitCodeFor(err))
	}
}

// exitCodeFor classifies a command failure per spec §6's exit code
// contract: userErr wraps validation/usage mistakes, anything else is a
// system error (I/O, network, a crashed dependency).
func exitCodeFor(err error) int {
	if isUserError(err) {
		return exitUserError
	}
	return exitSystemError
}
