package common

import (
	"fmt"
)

// Must be manually updated before releasing.
var version = Version{
	Major:      0,
	Minor:      3,
	Patch:      0,
	Prerelease: "-pre",
}

// Set via -ldflags, e.g.
//
//	go build -ldflags "-X github.com/fzmap/mapserver/common.COMMIT=`git rev-parse HEAD`"
var (
	COMMIT    = ""
	BUILDDATE = ""
)

// GetAppVersion returns the version of the running binary.
func GetAppVersion() Version {
	return version
}

// Version is a semantic version.
type Version struct {
	Major      uint32
	Minor      uint32
	Patch      uint32
	Prerelease string
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d%s", v.Major, v.Minor, v.Patch, v.Prerelease)
}
