// Package errors provides structured error types for the transcoder.
//
// Errors are categorized by Phase (where the error occurred) and Kind (error category).
// The four failure classes callers act on are kinds:
//
//	session_creation_failed  backend returned an invalid handle
//	transcode_failed         backend call failed, Stage names the step
//	input_read_failed        upstream read error, reachable via errors.Unwrap
//	invariant_violation      a format or topology code that should be unreachable
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseTranscode, errors.KindTranscodeFailed).
//		Stage("transcode_image").
//		Detail("backend rejected %d bytes", n).
//		Build()
//
// Match by kind with the sentinels:
//
//	if errors.Is(err, errors.ErrTranscodeFailed) { ... }
package errors
