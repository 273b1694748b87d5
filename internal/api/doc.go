// Package api defines transport-friendly views of the coordination state for
// the CLI and any other consumer that renders it without coupling to store
// internals.
//
// # Key Types
//
// Dashboard: worker counts by status, task counts with completion percentage,
// slot utilization and the ids of workers that currently fail the health rule.
//
// TaskView/WorkerView/EventView: flattened records with formatted timestamps.
//
// # Design Notes
//
// DTOs use camelCase JSON tags. Enums are exposed as their lowercase string
// values. Timestamps use RFC3339 with milliseconds.
package api
