package buildinfo

import (
	"fmt"
	"log"
)

// Set via -ldflags at build time.
var (
	Version = "dev"
	Commit  = "unknown"
)

// Info returns a single-line build summary.
func Info() string {
	return fmt.Sprintf("version=%s commit=%s", Version, Commit)
}

// Log writes the build summary with the service name.
func Log(service string) {
	log.Printf("%s %s", service, Info())
}
