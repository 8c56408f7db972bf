// Package config loads searchsync configuration.
//
// Values come from, in increasing precedence: built-in defaults, the config
// file (YAML, TOML or JSON), and SEARCHSYNC_* environment variables, where
// "index.batch.actions" is read from SEARCHSYNC_INDEX_BATCH_ACTIONS. The
// merged result is validated against the embedded CUE schema. Any failure
// is reported as an *Error, which callers treat as fatal.
package config
