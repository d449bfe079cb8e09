// Package stores persists build sessions in an SQLite journal.
//
// SQLiteStore implements engine.Recorder, so passing it to the scheduler
// with engine.WithRecorder records each session, the status and timing of
// every part, and the resolved environment each part was built with. The
// environment is stored as JSON together with its SHA-256 so identical
// environments can be matched across sessions. The schema is managed with
// golang-migrate from the embedded migrations directory.
package stores
