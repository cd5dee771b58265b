// Package types provides shared data structures for the orchestrator.
//
// This package defines the types that cross component boundaries, keeping
// the domain, provider, and API layers on one vocabulary.
//
// Core Types:
//   - App: Managed application state (snapshot and persisted form)
//   - Profile: One runnable configuration of an app
//   - LogEvent: Streamed task/process output line
//   - Stats: Registry summary
//
// Request Types:
//   - SetupRequest: Install/profile selection
//   - UpdateRequest: Version change
//   - ConfigUpdateRequest: Config item update
//
// Example Usage:
//
//	app := types.App{
//	    Name:     "demo",
//	    Profiles: []types.Profile{{Name: "release", MainScript: "main.py"}},
//	}
//	profile := app.Profile("release")
package types
