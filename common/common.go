// Package common holds build identity and logger setup shared by the
// binaries.
package common

// PackageName identifies the service in logs and metrics.
const PackageName = "apikey-gateway"

// Version is set at build time via -ldflags.
var Version = "dev"
