// Package filestore implements store.Store as plain YAML documents under a root
// directory:
//
//	tasks.yaml              every task plus the next id
//	workers/<id>.yaml       one registry record per worker
//	heartbeats/<id>.yaml    latest self-reported state, written by the worker
//	sentinels/<id>.finished one-shot "no more work" marker
//	events.jsonl            append-only event log
//	.hive.lock              advisory lock held for every mutation
//
// Every mutation is read-modify-write under the lock, and documents are replaced
// through a temp file and rename so readers never see a partial write. Capacity
// slots are not supported.
package filestore
