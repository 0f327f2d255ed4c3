// Package storage provides a minimal persistence layer for the flow run journal.
//
// Schedules themselves are never persisted: they are rebuilt from the
// configured flows on every start.
package storage
