// Package process supervises application child processes.
//
// A started app runs from its working tree under its venv, with output
// relayed line-by-line to the event stream. The supervisor tracks each
// process until it exits: Stop delivers a graceful interrupt and escalates
// to a force kill after the grace period, and pids persisted across daemon
// restarts can be probed and put down as orphans.
package process
