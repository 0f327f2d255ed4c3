// Package flow implements trigger cards: the configured flows that request
// cron schedules (argument records) and react when a schedule fires.
//
// A Card is both sides of the scheduler contract:
//   - it supplies argument records (ArgumentValues) to the desired-set collector
//   - it is notified on every tick (Trigger) and runs only the flows whose
//     run listener matches the fired schedule
package flow
