// Package notifier fans one timer tick out to every registered trigger consumer.
//
// Consumers are notified unconditionally and filter for themselves: each one
// compares its own configuration against the delivered schedule. One
// consumer failing never prevents the others from being notified.
package notifier
