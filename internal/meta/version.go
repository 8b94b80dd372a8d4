package meta

import (
	"fmt"
	"runtime"
)

// Info describes the build of a kvcheck binary. Most of it is stamped in by
// the linker, see the vars below.
type Info struct {
	Version   string
	Build     string
	Branch    string
	BuildTime string
	Platform  string
	GoVersion string
	GoTag     string
}

// These will be filled in using the linker -X flag
var (
	Version string

	// Build is the Git sha from when we are building
	Build string

	Branch string

	// BuildTimeUTC is year/month/day hour:min:sec
	BuildTimeUTC string

	// GoTag holds the build tags
	GoTag string

	platform = fmt.Sprintf("%s %s", runtime.GOOS, runtime.GOARCH)
)

// GetInfo returns an Info struct populated with the build information.
func GetInfo() Info {
	return Info{
		GoVersion: runtime.Version(),
		Version:   Version,
		Build:     Build,
		Branch:    Branch,
		BuildTime: BuildTimeUTC,
		GoTag:     GoTag,
		Platform:  platform,
	}
}
