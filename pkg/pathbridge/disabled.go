//go:build freebsd || windows
// +build freebsd windows

package pathbridge

import "errors"

// errUnsupportedPlatform is returned by every entry point on platforms
// the go-fuse kernel driver doesn't support.
var errUnsupportedPlatform = errors.New("pathbridge: FUSE is not supported on this platform")

// Server stands in for the darwin/linux Server so code that merely holds
// a reference (without calling into it) still compiles on other
// platforms.
type Server struct{}

// Attr mirrors the darwin/linux alias without requiring the go-fuse
// import on platforms that can't build it anyway.
type Attr struct {
	Mode uint32
	Ino  uint64
}

// Status is a narrow stand-in for fuse.Status, sufficient for code that
// only needs the zero value to type-check on unsupported platforms.
type Status int32

// OK is the zero Status.
const OK Status = 0

// FillFunc mirrors the darwin/linux declaration.
type FillFunc func(name string, attr Attr) bool

// Operations stands in for the darwin/linux capability table so callers
// can reference the type name on every platform; only Getattr is
// declared, and none of its fields are invoked here.
type Operations struct {
	Getattr func(path string) (Attr, Status)
}

// Options mirrors the darwin/linux mount options.
type Options struct {
	Debug                    bool
	HardRemove               bool
	UseIno                   bool
	AllowRoot                bool
	ReaddirIno               bool
	ShuffleDirectoryListings bool
}

// ParseOptions always fails: there is no mount to configure.
func ParseOptions(s string) (Options, error) {
	return Options{}, errUnsupportedPlatform
}

// NewServer always fails on platforms without a FUSE kernel driver.
func NewServer(ops Operations, mountpoint string, options Options, name string) (*Server, error) {
	return nil, errUnsupportedPlatform
}

func (s *Server) Serve()           {}
func (s *Server) Unmount() error   { return errUnsupportedPlatform }
func (s *Server) WaitMount() error { return errUnsupportedPlatform }
