// Package timer is the cron timer primitive used by the scheduler.
//
// Each Handle owns its own robfig/cron instance created with a fixed
// location, so the timezone of a running timer cannot change. Rebinding a
// schedule to another timezone means stopping the handle and creating a new
// one.
package timer
