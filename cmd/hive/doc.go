// Command hive is the operator and worker CLI: it initializes a store,
// enqueues and inspects tasks, provisions and spawns workers, runs a worker's
// claim loop, renders the dashboard, and runs the supervisor in the
// foreground.
package main
