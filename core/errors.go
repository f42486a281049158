package core

import "errors"

// Sentinel errors for the upstream gateway contract. Rate-limit and quota
// conditions are user-reportable and must stay distinguishable from generic
// upstream failures all the way to the HTTP layer.
var (
	ErrRateLimited     = errors.New("rate limit exceeded")
	ErrQuotaExceeded   = errors.New("usage quota exceeded")
	ErrEmptyTranscript = errors.New("no transcription provided")
	ErrNotFound        = errors.New("record not found")
	ErrSessionActive   = errors.New("live monitoring already active")
)
