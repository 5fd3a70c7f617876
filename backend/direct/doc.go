// Package direct runs the transcoder backend in-process.
//
// The environment passes container bytes to the library by reference and
// copies the decoded buffer out before returning it, so the result never
// aliases library memory. Transcoder addresses stay inside the
// environment's arena; callers only see handles.
//
// Native links the C backend when built with the basisu_native tag and cgo.
// Any other Library implementation can be wrapped with New.
package direct
