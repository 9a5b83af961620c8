// Package version reports the build version of the tools.
package version

import "runtime/debug"

// version is the version of the tools.
//
// This value is expected to be set via build-time injection.
var version string

// Version returns the injected version, falling back to the module version
// recorded by the Go toolchain.
func Version() string {
	if version != "" {
		return version
	}

	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		return info.Main.Version
	}

	return "devel"
}
