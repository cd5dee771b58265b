// Package http exposes the command API over REST-ish routes. Commands
// answer immediately (202 plus a task id for anything that runs a
// pipeline); all progress and results stream over the WebSocket feed.
package http
