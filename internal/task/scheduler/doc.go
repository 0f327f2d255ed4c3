// Package scheduler keeps exactly one running cron timer per distinct
// schedule requested by the configured trigger cards.
//
// A reconciliation pass collects the desired set of expressions from every
// argument source, diffs it against the running registry, stops timers that
// are no longer wanted and starts the missing ones. Timers whose expression
// is still wanted are left alone, so their next fire time is not disturbed.
//
// A timezone change tears every timer down and rebuilds the registry, since a
// running timer is bound to the zone it was created with.
package scheduler
