package logger

import (
	"log/slog"
)

// Standard field keys for structured logging across the name server, storage
// servers, and client. Use these consistently so log lines can be grepped and
// aggregated the same way regardless of which process emitted them.
const (
	// ========================================================================
	// Request correlation
	// ========================================================================
	KeyTraceID    = "trace_id"
	KeyConnID     = "connection_id"
	KeyRemoteAddr = "remote_addr"

	// ========================================================================
	// Identity & authorization
	// ========================================================================
	KeyUsername = "username"
	KeyOwner    = "owner"
	KeyTarget   = "target_user"

	// ========================================================================
	// Storage server registry
	// ========================================================================
	KeySSID    = "ss_id"
	KeySSAddr  = "ss_addr"
	KeySSCount = "ss_count"

	// ========================================================================
	// File operations
	// ========================================================================
	KeyFilename = "filename"
	KeyVerb     = "verb"
	KeyBytes    = "bytes"

	// ========================================================================
	// Write coordinator
	// ========================================================================
	KeySentence  = "sentence_index"
	KeyWordIndex = "word_index"
	KeyLocked    = "locked"

	// ========================================================================
	// Checkpoints & undo
	// ========================================================================
	KeyTag        = "tag"
	KeyCheckpoint = "checkpoint"

	// ========================================================================
	// Outcome
	// ========================================================================
	KeyDurationMs = "duration_ms"
	KeyError      = "error"
)

// Err returns a slog.Attr for an error, or a zero Attr if err is nil.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}

// SSID returns a slog.Attr for a storage server id.
func SSID(id int) slog.Attr {
	return slog.Int(KeySSID, id)
}

// Filename returns a slog.Attr for a file name.
func Filename(name string) slog.Attr {
	return slog.String(KeyFilename, name)
}

// Username returns a slog.Attr for a username.
func Username(name string) slog.Attr {
	return slog.String(KeyUsername, name)
}

// Verb returns a slog.Attr for the command verb being handled.
func Verb(v string) slog.Attr {
	return slog.String(KeyVerb, v)
}

// Sentence returns a slog.Attr for a sentence index.
func Sentence(idx int) slog.Attr {
	return slog.Int(KeySentence, idx)
}

// Tag returns a slog.Attr for a checkpoint tag.
func Tag(tag string) slog.Attr {
	return slog.String(KeyTag, tag)
}

// DurationMs returns a slog.Attr for an operation duration in milliseconds.
func DurationMs(ms float64) slog.Attr {
	return slog.Float64(KeyDurationMs, ms)
}
