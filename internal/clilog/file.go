package clilog

import "os"

// openAppend opens path for append, creating it with owner-only permissions
// if absent.
func openAppend(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
}
