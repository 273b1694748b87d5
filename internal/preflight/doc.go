// Package preflight runs the readiness checks behind `hive doctor`: store
// directories, store health, and the launcher and executor commands.
package preflight
