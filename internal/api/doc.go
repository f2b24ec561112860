// Package api implements the operational HTTP endpoints: executor task
// introspection, queue job polling, and metrics snapshots.
package api
