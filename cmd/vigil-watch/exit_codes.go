package main

const (
	exitCodeSuccess        = 0
	exitCodeUsage          = 1
	exitCodeTargetMissing  = 2
	exitCodeBootstrapDepth = 3
	exitCodeUnsupported    = 4
	exitCodeWatchFailed    = 5
)
