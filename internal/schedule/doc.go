// Package schedule normalizes heterogeneous schedule descriptions into the
// canonical cron expression used as the identity key for running timers.
//
// Two description shapes exist:
//   - Raw: a complete cron expression ("0 9 * * 1", "*/30 * * * * *")
//   - Parts: the individual time fields (optional second, then minute, hour,
//     day-of-month, month, day-of-week)
//
// Both feed the same pure Normalize function, so a raw "0 9 * * 1" and the
// parts {minute:0 hour:9 dom:* month:* dow:1} address the same timer.
package schedule
