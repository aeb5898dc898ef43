//go:build !linux && !darwin

package logger

// isTerminal disables colour where termios is unavailable.
func isTerminal(uintptr) bool { return false }
