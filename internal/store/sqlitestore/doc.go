// Package sqlitestore implements store.Store on an embedded SQLite database.
//
// Every participant opens the same database file. Claims are a single
// conditional UPDATE ... RETURNING statement, and multi-statement mutations run
// inside BEGIN IMMEDIATE transactions so writers serialize up front instead of
// failing on lock upgrade. SQLITE_BUSY is retried with bounded backoff.
package sqlitestore
