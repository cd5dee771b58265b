// Package main is the entry point for the appyard orchestrator daemon.
//
// The daemon manages locally installed Python applications end to end:
// cloning and updating their sources from git tags, provisioning runtimes
// and virtual environments, supervising the running processes, and
// streaming progress to the local UI.
//
// Architecture:
//
//	UI (local) → HTTP API + /stream WebSocket → task dispatcher
//	                                          → git / python / process providers
//
// Configuration:
//   - Environment variables prefixed APPYARD_ (12-factor)
//   - CLI flags (override env vars)
//   - Defaults for a loopback development setup
//
// Usage:
//
//	# Default: listen on 127.0.0.1:8090 with data under ./data
//	./server
//
//	# Custom layout
//	./server -port 9000 -data /var/lib/appyard -manifest /etc/appyard.yml
//
//	# Development mode (colored logs, debug level)
//	./server -dev
//
// Signals:
//   - SIGINT, SIGTERM: Graceful shutdown; supervised apps keep running
package main
