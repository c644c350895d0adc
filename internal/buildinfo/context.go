// Package buildinfo carries build-time metadata injected through ldflags.
package buildinfo

import "fmt"

// UnknownValue is reported for metadata missing from the build.
const UnknownValue = "unknown"

// Context holds the version and build date of the running binary. It is
// not part of the user configuration.
type Context struct {
	version   string
	buildDate string
}

// NewContext captures build metadata.
func NewContext(version, buildDate string) *Context {
	return &Context{version: version, buildDate: buildDate}
}

// Version returns the release version, or UnknownValue.
func (c *Context) Version() string {
	if c == nil || c.version == "" {
		return UnknownValue
	}
	return c.version
}

// BuildDate returns the build timestamp, or UnknownValue.
func (c *Context) BuildDate() string {
	if c == nil || c.buildDate == "" {
		return UnknownValue
	}
	return c.buildDate
}

// Release is the identifier attached to error reports.
func (c *Context) Release() string {
	return "dermascan@" + c.Version()
}

func (c *Context) String() string {
	return fmt.Sprintf("dermascan %s (built %s)", c.Version(), c.BuildDate())
}
