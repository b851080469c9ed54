// Package version provides build and version information for Flume.
package version

// Version is the current release version of Flume.
// This can be overridden at build time using:
//
//	go build -ldflags "-X github.com/openhydrology/flume/internal/version.Version=x.y.z"
var Version = "0.3.0"
