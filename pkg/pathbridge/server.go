// +build darwin linux

package pathbridge

import (
	"fmt"

	"github.com/hanwen/go-fuse/v2/fuse"
)

// Server wraps a mounted FileSystem and go-fuse's own *fuse.Server,
// giving callers a single handle to start serving requests and later
// unmount, mirroring the shape of a long-running network server.
type Server struct {
	fs     *FileSystem
	server *fuse.Server
}

// NewServer mounts ops at mountpoint and returns a Server ready to serve
// requests once Serve is called. name is used as the filesystem's
// advertised FsName, visible in mount(8) output.
func NewServer(ops Operations, mountpoint string, options Options, name string) (*Server, error) {
	fs := NewFileSystem(ops, options)
	server, err := fuse.NewServer(fs, mountpoint, &fuse.MountOptions{
		FsName:     name,
		Name:       name,
		AllowOther: options.AllowRoot,
		Debug:      options.Debug,
	})
	if err != nil {
		return nil, fmt.Errorf("pathbridge: failed to mount %s: %w", mountpoint, err)
	}
	return &Server{fs: fs, server: server}, nil
}

// Serve blocks, processing FUSE requests until the filesystem is
// unmounted. Callers typically invoke it in its own goroutine.
func (s *Server) Serve() {
	s.server.Serve()
}

// WaitMount blocks until the kernel has acknowledged the mount, so a
// caller that needs to touch the mountpoint right after Serve starts
// doesn't race the kernel's INIT handshake.
func (s *Server) WaitMount() error {
	return s.server.WaitMount()
}

// Unmount requests that the kernel tear down the mount. Serve's call to
// server.Serve() returns once that completes.
func (s *Server) Unmount() error {
	return s.server.Unmount()
}
