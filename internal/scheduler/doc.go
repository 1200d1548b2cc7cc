// Package scheduler fires a single job on a fixed interval or cron
// expression, never letting two runs overlap and never letting a failing run
// stop the next one.
package scheduler
