// Command passthroughfs mounts a real directory tree at a FUSE
// mountpoint, translating every request straight through to the
// underlying filesystem. It exists to exercise pathbridge end to end
// with a genuine backing store rather than an in-memory fake.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/hanwen/go-fuse/v2/fuse"
	"github.com/spf13/pflag"
	"golang.org/x/sys/unix"

	"github.com/pathbridge/pathbridge/pkg/pathbridge"
)

func main() {
	root := pflag.String("root", "", "Directory tree to expose (required)")
	mountpoint := pflag.String("mountpoint", "", "Where to mount the filesystem (required)")
	name := pflag.String("name", "passthroughfs", "Filesystem name reported to mount(8)")
	options := pflag.String("options", "", "Comma-separated pathbridge options (debug,hard_remove,use_ino,allow_root,readdir_ino,shuffle_dirents)")
	pflag.Parse()

	if *root == "" || *mountpoint == "" {
		fmt.Fprintln(os.Stderr, "passthroughfs: --root and --mountpoint are required")
		pflag.Usage()
		os.Exit(2)
	}

	opts, err := pathbridge.ParseOptions(*options)
	if err != nil {
		fmt.Fprintf(os.Stderr, "passthroughfs: %v\n", err)
		os.Exit(2)
	}

	backend := newPassthrough(*root)
	server, err := pathbridge.NewServer(backend.operations(), *mountpoint, opts, *name)
	if err != nil {
		fmt.Fprintf(os.Stderr, "passthroughfs: %v\n", err)
		os.Exit(1)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		server.Unmount()
	}()

	fmt.Printf("passthroughfs: serving %s at %s\n", *root, *mountpoint)
	server.Serve()
}

// passthrough implements every pathbridge.Operations callback except
// the Init and Destroy hooks by
// forwarding to the real filesystem rooted at dir, translating a path
// relative to the mount into a path relative to dir before every
// syscall.
type passthrough struct {
	dir string

	handlesMu sync.Mutex
	nextFh    uint64
	files     map[uint64]*os.File
	dirs      map[uint64]*os.File
}

func newPassthrough(dir string) *passthrough {
	return &passthrough{
		dir:   dir,
		files: make(map[uint64]*os.File),
		dirs:  make(map[uint64]*os.File),
	}
}

func (p *passthrough) real(path string) string {
	if path == "/" {
		return p.dir
	}
	return p.dir + path
}

func (p *passthrough) allocFh() uint64 {
	p.handlesMu.Lock()
	defer p.handlesMu.Unlock()
	p.nextFh++
	return p.nextFh
}

func errnoStatus(err error) pathbridge.Status {
	if err == nil {
		return pathbridge.OK
	}
	if errno, ok := err.(syscall.Errno); ok {
		return pathbridge.Status(errno)
	}
	if pathErr, ok := err.(*os.PathError); ok {
		return errnoStatus(pathErr.Err)
	}
	if linkErr, ok := err.(*os.LinkError); ok {
		return errnoStatus(linkErr.Err)
	}
	return pathbridge.NotFound
}

func (p *passthrough) operations() pathbridge.Operations {
	return pathbridge.Operations{
		Getattr:     p.getattr,
		Readlink:    p.readlink,
		Opendir:     p.opendir,
		Readdir:     p.readdir,
		Releasedir:  p.releasedir,
		Fsyncdir:    p.fsyncdir,
		Mknod:       p.mknod,
		Mkdir:       p.mkdir,
		Unlink:      p.unlink,
		Rmdir:       p.rmdir,
		Symlink:     p.symlink,
		Rename:      p.rename,
		Link:        p.link,
		Chmod:       p.chmod,
		Chown:       p.chown,
		Truncate:    p.truncate,
		Utime:       p.utime,
		Open:        p.open,
		Read:        p.read,
		Write:       p.write,
		Flush:       p.flush,
		Release:     p.release,
		Fsync:       p.fsync,
		Statfs:      p.statfs,
		Setxattr:    p.setxattr,
		Getxattr:    p.getxattr,
		Listxattr:   p.listxattr,
		Removexattr: p.removexattr,
	}
}

func (p *passthrough) getattr(path string) (pathbridge.Attr, pathbridge.Status) {
	var st unix.Stat_t
	if err := unix.Lstat(p.real(path), &st); err != nil {
		return pathbridge.Attr{}, errnoStatus(err)
	}
	return statToAttr(&st), pathbridge.OK
}

func (p *passthrough) readlink(path string) (string, pathbridge.Status) {
	buf := make([]byte, 4096)
	n, err := unix.Readlink(p.real(path), buf)
	if err != nil {
		return "", errnoStatus(err)
	}
	return string(buf[:n]), pathbridge.OK
}

func (p *passthrough) opendir(path string) (uint64, pathbridge.Status) {
	f, err := os.Open(p.real(path))
	if err != nil {
		return 0, errnoStatus(err)
	}
	fh := p.allocFh()
	p.handlesMu.Lock()
	p.dirs[fh] = f
	p.handlesMu.Unlock()
	return fh, pathbridge.OK
}

func (p *passthrough) readdir(path string, handle uint64, fill pathbridge.FillFunc) pathbridge.Status {
	p.handlesMu.Lock()
	f := p.dirs[handle]
	p.handlesMu.Unlock()
	if f == nil {
		return pathbridge.NotFound
	}
	if _, err := f.Seek(0, 0); err != nil {
		return errnoStatus(err)
	}
	names, err := f.Readdirnames(-1)
	if err != nil {
		return errnoStatus(err)
	}
	for _, name := range names {
		var st unix.Stat_t
		var attr pathbridge.Attr
		if err := unix.Lstat(p.real(path)+"/"+name, &st); err == nil {
			attr = statToAttr(&st)
		}
		if !fill(name, attr) {
			break
		}
	}
	return pathbridge.OK
}

func (p *passthrough) releasedir(path string, handle uint64) pathbridge.Status {
	p.handlesMu.Lock()
	f := p.dirs[handle]
	delete(p.dirs, handle)
	p.handlesMu.Unlock()
	if f == nil {
		return pathbridge.NotFound
	}
	return errnoStatus(f.Close())
}

func (p *passthrough) fsyncdir(path string, handle uint64, dataOnly bool) pathbridge.Status {
	p.handlesMu.Lock()
	f := p.dirs[handle]
	p.handlesMu.Unlock()
	if f == nil {
		return pathbridge.NotFound
	}
	return errnoStatus(f.Sync())
}

func (p *passthrough) mknod(path string, mode, dev uint32) (pathbridge.Attr, pathbridge.Status) {
	if err := unix.Mknod(p.real(path), mode, int(dev)); err != nil {
		return pathbridge.Attr{}, errnoStatus(err)
	}
	return p.getattr(path)
}

func (p *passthrough) mkdir(path string, mode uint32) (pathbridge.Attr, pathbridge.Status) {
	if err := unix.Mkdir(p.real(path), mode); err != nil {
		return pathbridge.Attr{}, errnoStatus(err)
	}
	return p.getattr(path)
}

func (p *passthrough) unlink(path string) pathbridge.Status {
	return errnoStatus(unix.Unlink(p.real(path)))
}

func (p *passthrough) rmdir(path string) pathbridge.Status {
	return errnoStatus(unix.Rmdir(p.real(path)))
}

func (p *passthrough) symlink(target, path string) (pathbridge.Attr, pathbridge.Status) {
	if err := unix.Symlink(target, p.real(path)); err != nil {
		return pathbridge.Attr{}, errnoStatus(err)
	}
	return p.getattr(path)
}

func (p *passthrough) rename(oldPath, newPath string) pathbridge.Status {
	return errnoStatus(unix.Rename(p.real(oldPath), p.real(newPath)))
}

func (p *passthrough) link(oldPath, newPath string) (pathbridge.Attr, pathbridge.Status) {
	if err := unix.Link(p.real(oldPath), p.real(newPath)); err != nil {
		return pathbridge.Attr{}, errnoStatus(err)
	}
	return p.getattr(newPath)
}

func (p *passthrough) chmod(path string, mode uint32) pathbridge.Status {
	return errnoStatus(unix.Chmod(p.real(path), mode))
}

func (p *passthrough) chown(path string, uid, gid int32) pathbridge.Status {
	return errnoStatus(unix.Lchown(p.real(path), int(uid), int(gid)))
}

func (p *passthrough) truncate(path string, size uint64) pathbridge.Status {
	return errnoStatus(unix.Truncate(p.real(path), int64(size)))
}

func (p *passthrough) utime(path string, atime, mtime time.Time) pathbridge.Status {
	times := []unix.Timespec{
		unix.NsecToTimespec(atime.UnixNano()),
		unix.NsecToTimespec(mtime.UnixNano()),
	}
	return errnoStatus(unix.UtimesNanoAt(unix.AT_FDCWD, p.real(path), times, unix.AT_SYMLINK_NOFOLLOW))
}

func (p *passthrough) open(path string, flags uint32) (uint64, pathbridge.Status) {
	f, err := os.OpenFile(p.real(path), int(flags), 0)
	if err != nil {
		return 0, errnoStatus(err)
	}
	fh := p.allocFh()
	p.handlesMu.Lock()
	p.files[fh] = f
	p.handlesMu.Unlock()
	return fh, pathbridge.OK
}

func (p *passthrough) read(path string, handle uint64, buf []byte, offset int64) (fuse.ReadResult, pathbridge.Status) {
	p.handlesMu.Lock()
	f := p.files[handle]
	p.handlesMu.Unlock()
	if f == nil {
		return nil, pathbridge.NotFound
	}
	n, err := f.ReadAt(buf, offset)
	if err != nil && n == 0 {
		return nil, errnoStatus(err)
	}
	return fuse.ReadResultData(buf[:n]), pathbridge.OK
}

func (p *passthrough) write(path string, handle uint64, data []byte, offset int64) (uint32, pathbridge.Status) {
	p.handlesMu.Lock()
	f := p.files[handle]
	p.handlesMu.Unlock()
	if f == nil {
		return 0, pathbridge.NotFound
	}
	n, err := f.WriteAt(data, offset)
	if err != nil {
		return uint32(n), errnoStatus(err)
	}
	return uint32(n), pathbridge.OK
}

func (p *passthrough) flush(path string, handle uint64) pathbridge.Status {
	// A real close(2) happens in Release; Flush corresponds to an
	// application close(2) that may be followed by more use of the
	// same descriptor through a dup, so nothing is closed here.
	return pathbridge.OK
}

func (p *passthrough) release(path string, handle uint64) pathbridge.Status {
	p.handlesMu.Lock()
	f := p.files[handle]
	delete(p.files, handle)
	p.handlesMu.Unlock()
	if f == nil {
		return pathbridge.OK
	}
	return errnoStatus(f.Close())
}

func (p *passthrough) fsync(path string, handle uint64, dataOnly bool) pathbridge.Status {
	p.handlesMu.Lock()
	f := p.files[handle]
	p.handlesMu.Unlock()
	if f == nil {
		return pathbridge.NotFound
	}
	return errnoStatus(f.Sync())
}

func (p *passthrough) statfs(path string) (fuse.StatfsOut, pathbridge.Status) {
	var st unix.Statfs_t
	if err := unix.Statfs(p.real(path), &st); err != nil {
		return fuse.StatfsOut{}, errnoStatus(err)
	}
	return fuse.StatfsOut{
		Blocks:  st.Blocks,
		Bfree:   st.Bfree,
		Bavail:  st.Bavail,
		Files:   st.Files,
		Ffree:   st.Ffree,
		Bsize:   uint32(st.Bsize),
		NameLen: uint32(st.Namelen),
		Frsize:  uint32(st.Frsize),
	}, pathbridge.OK
}

func (p *passthrough) setxattr(path, name string, data []byte, flags uint32) pathbridge.Status {
	return errnoStatus(unix.Lsetxattr(p.real(path), name, data, int(flags)))
}

func (p *passthrough) getxattr(path, name string) ([]byte, pathbridge.Status) {
	size, err := unix.Lgetxattr(p.real(path), name, nil)
	if err != nil {
		return nil, errnoStatus(err)
	}
	buf := make([]byte, size)
	n, err := unix.Lgetxattr(p.real(path), name, buf)
	if err != nil {
		return nil, errnoStatus(err)
	}
	return buf[:n], pathbridge.OK
}

func (p *passthrough) listxattr(path string) ([]string, pathbridge.Status) {
	size, err := unix.Llistxattr(p.real(path), nil)
	if err != nil {
		return nil, errnoStatus(err)
	}
	buf := make([]byte, size)
	n, err := unix.Llistxattr(p.real(path), buf)
	if err != nil {
		return nil, errnoStatus(err)
	}
	var names []string
	for _, part := range strings.Split(string(buf[:n]), "\x00") {
		if part != "" {
			names = append(names, part)
		}
	}
	return names, pathbridge.OK
}

func (p *passthrough) removexattr(path, name string) pathbridge.Status {
	return errnoStatus(unix.Lremovexattr(p.real(path), name))
}

func statToAttr(st *unix.Stat_t) pathbridge.Attr {
	return pathbridge.Attr{
		Ino:       st.Ino,
		Size:      uint64(st.Size),
		Blocks:    uint64(st.Blocks),
		Mode:      st.Mode,
		Nlink:     uint32(st.Nlink),
		Owner:     fuse.Owner{Uid: st.Uid, Gid: st.Gid},
		Rdev:      uint32(st.Rdev),
		Blksize:   uint32(st.Blksize),
		Atime:     uint64(st.Atim.Sec),
		Atimensec: uint32(st.Atim.Nsec),
		Mtime:     uint64(st.Mtim.Sec),
		Mtimensec: uint32(st.Mtim.Nsec),
		Ctime:     uint64(st.Ctim.Sec),
		Ctimensec: uint32(st.Ctim.Nsec),
	}
}
