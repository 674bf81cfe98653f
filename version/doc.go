// Package version reports build information for pipekit binaries.
//
// Values come from -ldflags when set and from the module's embedded VCS
// metadata otherwise:
//
//	go build -ldflags "-X github.com/kbukum/pipekit/version.Version=1.0.0" ./cmd/teepipe
package version
