// Package task coordinates application lifecycle pipelines.
//
// The dispatcher is the only writer of app state during mutations: every
// command (install, update, start, stop, delete, profile change) claims
// the app's single task slot, runs its pipeline on its own goroutine, and
// reports progress as app-log events through the hub. A second command
// against a busy app fails fast with Busy instead of queueing. Pipelines
// run on a background context, so a disconnected client never abandons an
// app half provisioned.
package task
