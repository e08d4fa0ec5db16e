// Package api defines the public contracts of the flock engine: mode
// workflows and their steps, run instances, the Engine interface, the
// Trigger/RunResult envelope, and the Observer hooks used for logging and
// metrics.
//
// Most applications import the root flock package, which re-exports
// everything here; api exists so that internal packages and pkg/worker can
// share these types without an import cycle.
package api
