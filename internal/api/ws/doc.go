// Package ws serves the event stream. Each connection gets every hub event
// in publish order: an optional replay of buffered events the client missed
// (selected with the since query parameter), then a fresh apps snapshot,
// then live traffic. Clients may send {"type":"ping"} keepalives and get
// {"type":"pong"} back.
package ws
