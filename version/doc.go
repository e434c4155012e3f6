// Package version reports build metadata. Version, Commit and BuildTime are
// set with -ldflags "-X github.com/kbukum/flowkit/version.Version=v1.2.3";
// unset values fall back to the VCS stamps of the Go build info.
package version
