//go:build debug

package main

// In debug builds we enable both debug and verbose behaviours. The config
// may still choose the effective log level, but per-line trace helpers in
// the scan path are guarded behind these build-time checks.

func debugEnabled() bool {
	return true
}

func verboseEnabled() bool {
	return true
}
