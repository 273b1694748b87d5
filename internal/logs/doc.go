// Package logs reads worker session logs written by the launcher.
//
// Last returns the final lines of a log with the offset to resume from, and
// Follow streams lines appended after that offset until the context ends.
package logs
