package config

import (
	"fmt"
	"os"
)

// Exitf prints a fatal error to stderr and terminates the process. The hub
// and hub-token binaries call it for startup failures only, never once a
// server is accepting requests.
func Exitf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
