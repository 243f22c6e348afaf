// Package version provides build and version information for the workbench.
package version

// Name is the product name printed by the CLI.
const Name = "Scene Workbench"

// Version is the current release version of Scene Workbench.
// This can be overridden at build time using:
//
//	go build -ldflags "-X github.com/AaronLay10/SceneWorkbench/internal/version.Version=x.y.z"
var Version = "0.3.0"
