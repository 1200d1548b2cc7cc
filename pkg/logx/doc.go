// Package logx is the logging layer shared by every naps component.
//
// Components receive a Logger value and derive scoped loggers with With.
// The process owns one Service; reloading the configuration calls Apply,
// which swaps level and sinks underneath every Logger already handed out.
// Console lines are human readable, file lines are JSON.
package logx
