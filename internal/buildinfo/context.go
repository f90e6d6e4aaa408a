// Package buildinfo carries build-time metadata that is not part of the
// user configuration.
package buildinfo

import "fmt"

// UnknownValue is reported for metadata that was not injected at build time.
const UnknownValue = "unknown"

// Context holds values set through -ldflags at build time.
type Context struct {
	version   string
	buildDate string
}

// NewContext creates build metadata from linker-injected strings.
func NewContext(version, buildDate string) *Context {
	return &Context{version: version, buildDate: buildDate}
}

// Version returns the release tag, or UnknownValue.
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

// Release is the identifier reported with telemetry events.
func (c *Context) Release() string {
	return "birdsed@" + c.Version()
}

// String formats the metadata for the version command.
func (c *Context) String() string {
	return fmt.Sprintf("birdsed %s (built %s)", c.Version(), c.BuildDate())
}
