// +build darwin linux

package pathbridge

import (
	"time"

	"github.com/hanwen/go-fuse/v2/fuse"
)

// Attr is the file/directory attribute structure every callback that
// creates or inspects a node fills in. It is exactly go-fuse's fuse.Attr;
// pathbridge does not maintain a parallel stat structure of its own.
type Attr = fuse.Attr

// FillFunc is handed to Operations.Readdir. The implementation calls it
// once per directory entry it wants to report; pathbridge accumulates the
// calls into the directory's buffer and replays windowed slices of that
// buffer back to the kernel across repeated ReadDir requests. The Ino
// field of attr may be left zero — when the ReaddirIno option is set and
// UseIno is not, pathbridge fills it in from the node table.
type FillFunc func(name string, attr Attr) bool

// Operations is the pathname-based capability table a caller supplies to
// NewFileSystem. Every field is optional; a nil field makes the
// dispatcher reply NotImplemented for the opcodes that need it, while a
// nil Opendir, Releasedir, Release, Init or Destroy is simply skipped.
// The table is supplied once and never mutated afterwards.
type Operations struct {
	Getattr func(path string) (Attr, Status)
	Readlink func(path string) (target string, status Status)

	Opendir    func(path string) (handle uint64, status Status)
	Readdir    func(path string, handle uint64, fill FillFunc) Status
	Releasedir func(path string, handle uint64) Status
	Fsyncdir   func(path string, handle uint64, dataOnly bool) Status

	Mknod   func(path string, mode uint32, dev uint32) (Attr, Status)
	Mkdir   func(path string, mode uint32) (Attr, Status)
	Unlink  func(path string) Status
	Rmdir   func(path string) Status
	Symlink func(target, path string) (Attr, Status)
	Rename  func(oldPath, newPath string) Status
	Link    func(oldPath, newPath string) (Attr, Status)

	Chmod func(path string, mode uint32) Status
	// Chown receives -1 for whichever of uid/gid the request left
	// unspecified, the same "leave unchanged" convention chown(2) itself
	// uses.
	Chown    func(path string, uid, gid int32) Status
	Truncate func(path string, size uint64) Status
	// Utime is only ever invoked when a SetAttr request specifies both
	// atime and mtime together; a request naming just one of the two
	// leaves both untouched and never reaches this callback.
	Utime func(path string, atime, mtime time.Time) Status

	Open    func(path string, flags uint32) (handle uint64, status Status)
	Read    func(path string, handle uint64, buf []byte, offset int64) (fuse.ReadResult, Status)
	Write   func(path string, handle uint64, data []byte, offset int64) (written uint32, status Status)
	Flush   func(path string, handle uint64) Status
	Release func(path string, handle uint64) Status
	Fsync   func(path string, handle uint64, dataOnly bool) Status

	Statfs func(path string) (fuse.StatfsOut, Status)

	Setxattr    func(path, name string, data []byte, flags uint32) Status
	Getxattr    func(path, name string) (data []byte, status Status)
	Listxattr   func(path string) (names []string, status Status)
	Removexattr func(path, name string) Status

	// Init is invoked once, synchronously, when the kernel handshake
	// completes; Destroy is invoked once during unmount. Both run
	// outside the tree lock.
	Init    func()
	Destroy func()
}
