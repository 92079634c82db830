//go:build darwin || linux
// +build darwin linux

package pathbridge

import (
	"log"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/hanwen/go-fuse/v2/fuse"
)

// whitelistedWhenAllowRoot lists the opcodes always permitted even when
// allow_root is set and the caller is neither the filesystem owner nor
// root: operations against handles that were already opened by an
// authorized caller.
var whitelistedWhenAllowRoot = map[string]bool{
	"read": true, "write": true, "fsync": true, "release": true,
	"readdir": true, "fsyncdir": true, "releasedir": true, "init": true,
}

// FileSystem implements fuse.RawFileSystem on top of a pathname-based
// Operations table, the node table, and the hidden-rename policy.
type FileSystem struct {
	fuse.RawFileSystem

	ops      *Operations
	options  Options
	table    *Table
	hidden   *hiddenRenamer
	logger   *log.Logger
	ownerUID uint32
	sorter   Sorter

	dirHandlesLock sync.Mutex
	nextDirHandle  uint64
	dirHandles     map[uint64]*dirHandle

	// hiddenPaths remembers, for every node currently hidden, the path
	// it was hidden under, so Release can issue the deferred Unlink
	// without having to re-walk a detached node's (now empty) name.
	hiddenPathsLock sync.Mutex
	hiddenPaths     map[uint64]string
}

// NewFileSystem constructs a dispatcher around ops. The returned value
// implements fuse.RawFileSystem and can be passed directly to
// fuse.NewServer, or wrapped in Server via NewServer for the request-loop
// convenience it adds.
func NewFileSystem(ops Operations, options Options) *FileSystem {
	registerMetrics()
	fs := &FileSystem{
		RawFileSystem: fuse.NewDefaultRawFileSystem(),
		ops:           &ops,
		options:       options,
		table:         NewTable(),
		dirHandles:    make(map[uint64]*dirHandle),
		hiddenPaths:   make(map[uint64]string),
		ownerUID:      uint32(os.Getuid()),
	}
	fs.hidden = &hiddenRenamer{table: fs.table, ops: fs.ops}
	fs.sorter = Sorter(sort.Sort)
	if options.ShuffleDirectoryListings {
		fs.sorter = Shuffle
	}
	if options.Debug {
		fs.logger = log.New(os.Stderr, "pathbridge: ", log.LstdFlags|log.Lmicroseconds)
	}
	return fs
}

func (fs *FileSystem) trace(format string, args ...interface{}) {
	if fs.logger != nil {
		fs.logger.Printf(format, args...)
	}
}

func (fs *FileSystem) String() string      { return "pathbridge.FileSystem" }
func (fs *FileSystem) SetDebug(debug bool) { fs.options.Debug = debug }

// checkAccess enforces allow_root: when AllowRoot is set, only the
// filesystem's owner and root may issue opcodes that aren't in the
// always-permitted whitelist.
func (fs *FileSystem) checkAccess(header *fuse.InHeader, opcode string) Status {
	if !fs.options.AllowRoot {
		return OK
	}
	if whitelistedWhenAllowRoot[opcode] {
		return OK
	}
	if header.Caller.Uid == fs.ownerUID || header.Caller.Uid == 0 {
		return OK
	}
	return Access
}

// fillEntry populates a fuse.EntryOut from a resolved node, honoring
// UseIno: with use_ino unset (the default), the node's own identifier
// overrides whatever inode number the callback returned, so the kernel
// and this table always agree on identity; with use_ino set, the
// caller-supplied st_ino is trusted, matching classic FUSE's meaning of
// that option.
func (fs *FileSystem) fillEntry(out *fuse.EntryOut, n *Node, attr Attr) {
	out.NodeId = n.id
	out.Generation = n.generation
	out.Attr = attr
	if !fs.options.UseIno {
		out.Attr.Ino = n.id
	}
	out.SetEntryTimeout(time.Second)
	out.SetAttrTimeout(time.Second)
}

// Lookup resolves a (parent, name) pair to a node, consulting the user's
// Getattr and binding the result into the node table.
func (fs *FileSystem) Lookup(cancel <-chan struct{}, header *fuse.InHeader, name string, out *fuse.EntryOut) fuse.Status {
	if s := fs.checkAccess(header, "lookup"); s != OK {
		return s
	}
	start := time.Now()
	fs.trace("LOOKUP parent=%d name=%q", header.NodeId, name)

	fs.table.RLock()
	defer fs.table.RUnlock()

	path, ok := fs.table.PathOf(header.NodeId, name)
	if !ok {
		recordDispatch("lookup", start, NotFound)
		return NotFound
	}
	if fs.ops.Getattr == nil {
		recordDispatch("lookup", start, NotImplemented)
		return NotImplemented
	}

	attr, status := fs.ops.Getattr(path)
	status = clampStatus(status)
	if status != OK {
		recordDispatch("lookup", start, status)
		return status
	}

	node := fs.table.LookupOrInsert(header.NodeId, name, header.Unique)

	select {
	case <-cancel:
		fs.table.Forget(node.id, 1)
		recordDispatch("lookup", start, NotFound)
		return NotFound
	default:
	}

	fs.fillEntry(out, node, attr)
	recordDispatch("lookup", start, OK)
	return OK
}

// Forget relays a kernel forget notification to the node table.
func (fs *FileSystem) Forget(nodeID, nLookup uint64) {
	fs.trace("FORGET id=%d count=%d", nodeID, nLookup)
	fs.table.Forget(nodeID, nLookup)
}

func (fs *FileSystem) GetAttr(cancel <-chan struct{}, input *fuse.GetAttrIn, out *fuse.AttrOut) fuse.Status {
	if s := fs.checkAccess(&input.InHeader, "getattr"); s != OK {
		return s
	}
	start := time.Now()
	if fs.ops.Getattr == nil {
		recordDispatch("getattr", start, NotImplemented)
		return NotImplemented
	}

	fs.table.RLock()
	defer fs.table.RUnlock()

	path, ok := fs.table.PathOf(input.NodeId, "")
	if !ok {
		recordDispatch("getattr", start, NotFound)
		return NotFound
	}

	attr, status := fs.ops.Getattr(path)
	status = clampStatus(status)
	if status == OK {
		out.Attr = attr
		if !fs.options.UseIno {
			out.Attr.Ino = input.NodeId
		}
		out.SetTimeout(time.Second)
	}
	recordDispatch("getattr", start, status)
	return status
}

func (fs *FileSystem) Readlink(cancel <-chan struct{}, header *fuse.InHeader) ([]byte, fuse.Status) {
	if s := fs.checkAccess(header, "readlink"); s != OK {
		return nil, s
	}
	start := time.Now()
	if fs.ops.Readlink == nil {
		recordDispatch("readlink", start, NotImplemented)
		return nil, NotImplemented
	}
	fs.table.RLock()
	defer fs.table.RUnlock()

	path, ok := fs.table.PathOf(header.NodeId, "")
	if !ok {
		recordDispatch("readlink", start, NotFound)
		return nil, NotFound
	}
	target, status := fs.ops.Readlink(path)
	status = clampStatus(status)
	recordDispatch("readlink", start, status)
	if status != OK {
		return nil, status
	}
	return []byte(target), OK
}

func (fs *FileSystem) Access(cancel <-chan struct{}, input *fuse.AccessIn) fuse.Status {
	return NotImplemented
}

func (fs *FileSystem) Mknod(cancel <-chan struct{}, input *fuse.MknodIn, name string, out *fuse.EntryOut) fuse.Status {
	return fs.createLike("mknod", &input.InHeader, name, out, func(path string) (Attr, Status) {
		if fs.ops.Mknod == nil {
			return Attr{}, NotImplemented
		}
		return fs.ops.Mknod(path, input.Mode, input.Rdev)
	})
}

func (fs *FileSystem) Mkdir(cancel <-chan struct{}, input *fuse.MkdirIn, name string, out *fuse.EntryOut) fuse.Status {
	return fs.createLike("mkdir", &input.InHeader, name, out, func(path string) (Attr, Status) {
		if fs.ops.Mkdir == nil {
			return Attr{}, NotImplemented
		}
		return fs.ops.Mkdir(path, input.Mode)
	})
}

func (fs *FileSystem) Symlink(cancel <-chan struct{}, header *fuse.InHeader, pointedTo, linkName string, out *fuse.EntryOut) fuse.Status {
	return fs.createLike("symlink", header, linkName, out, func(path string) (Attr, Status) {
		if fs.ops.Symlink == nil {
			return Attr{}, NotImplemented
		}
		return fs.ops.Symlink(pointedTo, path)
	})
}

func (fs *FileSystem) Link(cancel <-chan struct{}, input *fuse.LinkIn, filename string, out *fuse.EntryOut) fuse.Status {
	start := time.Now()
	if fs.ops.Link == nil {
		recordDispatch("link", start, NotImplemented)
		return NotImplemented
	}
	fs.table.RLock()
	defer fs.table.RUnlock()

	oldPath, oldOK := fs.table.PathOf(input.Oldnodeid, "")
	newPath, newOK := fs.table.PathOf(input.NodeId, filename)
	if !oldOK || !newOK {
		recordDispatch("link", start, NotFound)
		return NotFound
	}
	attr, status := fs.ops.Link(oldPath, newPath)
	status = clampStatus(status)
	if status != OK {
		recordDispatch("link", start, status)
		return status
	}
	node := fs.table.LookupOrInsert(input.NodeId, filename, input.Unique)
	fs.fillEntry(out, node, attr)
	recordDispatch("link", start, OK)
	return OK
}

// createLike implements the shared shape of Mknod/Mkdir/Symlink: resolve
// the parent, reconstruct the not-yet-existing child's path, invoke the
// caller-supplied create function, and bind the result into the node
// table on success.
func (fs *FileSystem) createLike(op string, header *fuse.InHeader, name string, out *fuse.EntryOut, create func(path string) (Attr, Status)) fuse.Status {
	if s := fs.checkAccess(header, op); s != OK {
		return s
	}
	start := time.Now()
	fs.table.RLock()
	defer fs.table.RUnlock()

	path, ok := fs.table.PathOf(header.NodeId, name)
	if !ok {
		recordDispatch(op, start, NotFound)
		return NotFound
	}
	attr, status := create(path)
	status = clampStatus(status)
	if status != OK {
		recordDispatch(op, start, status)
		return status
	}
	node := fs.table.LookupOrInsert(header.NodeId, name, header.Unique)
	fs.fillEntry(out, node, attr)
	recordDispatch(op, start, OK)
	return OK
}

// Unlink hide-renames a busy name unless hard_remove is set, otherwise
// unlinks it for real.
func (fs *FileSystem) Unlink(cancel <-chan struct{}, header *fuse.InHeader, name string) fuse.Status {
	if s := fs.checkAccess(header, "unlink"); s != OK {
		return s
	}
	start := time.Now()

	fs.table.Lock()
	defer fs.table.Unlock()

	dirPath, ok := fs.table.PathOf(header.NodeId, "")
	if !ok {
		recordDispatch("unlink", start, NotFound)
		return NotFound
	}
	path, ok := fs.table.PathOf(header.NodeId, name)
	if !ok {
		recordDispatch("unlink", start, NotFound)
		return NotFound
	}

	if !fs.options.HardRemove && fs.table.IsOpen(header.NodeId, name) {
		status := fs.hidden.hide(dirPath, header.NodeId, name)
		if status == OK {
			if id, ok2 := fs.table.lookupChildID(header.NodeId, fs.hidden.lastHidden); ok2 {
				fs.hiddenPathsLock.Lock()
				fs.hiddenPaths[id] = joinPath(dirPath, fs.hidden.lastHidden)
				fs.hiddenPathsLock.Unlock()
			}
		}
		recordDispatch("unlink", start, status)
		return status
	}

	if fs.ops.Unlink == nil {
		recordDispatch("unlink", start, NotImplemented)
		return NotImplemented
	}
	status := clampStatus(fs.ops.Unlink(path))
	if status == OK {
		fs.table.Remove(header.NodeId, name)
	}
	recordDispatch("unlink", start, status)
	return status
}

func (fs *FileSystem) Rmdir(cancel <-chan struct{}, header *fuse.InHeader, name string) fuse.Status {
	if s := fs.checkAccess(header, "rmdir"); s != OK {
		return s
	}
	start := time.Now()
	fs.table.Lock()
	defer fs.table.Unlock()

	if fs.ops.Rmdir == nil {
		recordDispatch("rmdir", start, NotImplemented)
		return NotImplemented
	}
	path, ok := fs.table.PathOf(header.NodeId, name)
	if !ok {
		recordDispatch("rmdir", start, NotFound)
		return NotFound
	}
	status := clampStatus(fs.ops.Rmdir(path))
	if status == OK {
		fs.table.Remove(header.NodeId, name)
	}
	recordDispatch("rmdir", start, status)
	return status
}

// Rename moves an entry, hiding a busy destination before overwriting it.
func (fs *FileSystem) Rename(cancel <-chan struct{}, input *fuse.RenameIn, oldName, newName string) fuse.Status {
	if s := fs.checkAccess(&input.InHeader, "rename"); s != OK {
		return s
	}
	start := time.Now()
	fs.table.Lock()
	defer fs.table.Unlock()

	if fs.ops.Rename == nil {
		recordDispatch("rename", start, NotImplemented)
		return NotImplemented
	}
	oldPath, ok := fs.table.PathOf(input.NodeId, oldName)
	if !ok {
		recordDispatch("rename", start, NotFound)
		return NotFound
	}
	newDirPath, ok := fs.table.PathOf(input.Newdir, "")
	if !ok {
		recordDispatch("rename", start, NotFound)
		return NotFound
	}
	newPath, ok := fs.table.PathOf(input.Newdir, newName)
	if !ok {
		recordDispatch("rename", start, NotFound)
		return NotFound
	}

	if !fs.options.HardRemove && fs.table.IsOpen(input.Newdir, newName) {
		if status := fs.hidden.hide(newDirPath, input.Newdir, newName); status != OK {
			recordDispatch("rename", start, status)
			return status
		}
		if id, ok2 := fs.table.lookupChildID(input.Newdir, fs.hidden.lastHidden); ok2 {
			fs.hiddenPathsLock.Lock()
			fs.hiddenPaths[id] = joinPath(newDirPath, fs.hidden.lastHidden)
			fs.hiddenPathsLock.Unlock()
		}
	}

	status := clampStatus(fs.ops.Rename(oldPath, newPath))
	if status == OK {
		status = fs.table.Rename(input.NodeId, oldName, input.Newdir, newName, false)
	}
	recordDispatch("rename", start, status)
	return status
}

func (fs *FileSystem) Create(cancel <-chan struct{}, input *fuse.CreateIn, name string, out *fuse.CreateOut) fuse.Status {
	// The spec's Operations table has no combined create-and-open
	// callback; callers implement create semantics via Mknod followed
	// by Open, which is what this opcode is defined to be equivalent
	// to. Refusing it here keeps a single code path for object
	// creation instead of two that could drift apart.
	return NotImplemented
}

func (fs *FileSystem) Open(cancel <-chan struct{}, input *fuse.OpenIn, out *fuse.OpenOut) fuse.Status {
	if s := fs.checkAccess(&input.InHeader, "open"); s != OK {
		return s
	}
	start := time.Now()
	if fs.ops.Open == nil {
		recordDispatch("open", start, NotImplemented)
		return NotImplemented
	}
	fs.table.RLock()
	defer fs.table.RUnlock()

	path, ok := fs.table.PathOf(input.NodeId, "")
	if !ok {
		recordDispatch("open", start, NotFound)
		return NotFound
	}

	fh, status := fs.ops.Open(path, input.Flags)
	status = clampStatus(status)
	if status != OK {
		recordDispatch("open", start, status)
		return status
	}

	select {
	case <-cancel:
		if fs.ops.Release != nil {
			fs.ops.Release(path, fh)
		}
		recordDispatch("open", start, NotFound)
		return NotFound
	default:
	}

	out.Fh = fh
	fs.table.addOpen(input.NodeId)
	recordDispatch("open", start, OK)
	return OK
}

func (fs *FileSystem) Read(cancel <-chan struct{}, input *fuse.ReadIn, buf []byte) (fuse.ReadResult, fuse.Status) {
	start := time.Now()
	if fs.ops.Read == nil {
		recordDispatch("read", start, NotImplemented)
		return nil, NotImplemented
	}
	fs.table.RLock()
	defer fs.table.RUnlock()

	path, ok := fs.table.PathOf(input.NodeId, "")
	if !ok {
		recordDispatch("read", start, NotFound)
		return nil, NotFound
	}
	res, status := fs.ops.Read(path, input.Fh, buf, int64(input.Offset))
	status = clampStatus(status)
	recordDispatch("read", start, status)
	return res, status
}

func (fs *FileSystem) Write(cancel <-chan struct{}, input *fuse.WriteIn, data []byte) (uint32, fuse.Status) {
	start := time.Now()
	if fs.ops.Write == nil {
		recordDispatch("write", start, NotImplemented)
		return 0, NotImplemented
	}
	fs.table.RLock()
	defer fs.table.RUnlock()

	path, ok := fs.table.PathOf(input.NodeId, "")
	if !ok {
		recordDispatch("write", start, NotFound)
		return 0, NotFound
	}
	n, status := fs.ops.Write(path, input.Fh, data, int64(input.Offset))
	status = clampStatus(status)
	recordDispatch("write", start, status)
	return n, status
}

func (fs *FileSystem) Flush(cancel <-chan struct{}, input *fuse.FlushIn) fuse.Status {
	start := time.Now()
	if fs.ops.Flush == nil {
		recordDispatch("flush", start, NotImplemented)
		return NotImplemented
	}
	fs.table.RLock()
	defer fs.table.RUnlock()

	path, ok := fs.table.PathOf(input.NodeId, "")
	if !ok {
		recordDispatch("flush", start, NotFound)
		return NotFound
	}
	status := clampStatus(fs.ops.Flush(path, input.Fh))
	recordDispatch("flush", start, status)
	return status
}

// Release closes a handle and, if this was the last open of a hidden
// node, performs its deferred Unlink.
func (fs *FileSystem) Release(cancel <-chan struct{}, input *fuse.ReleaseIn) {
	start := time.Now()
	wasLastOpenOfHidden := fs.table.dropOpen(input.NodeId)

	fs.table.RLock()
	path, ok := fs.table.PathOf(input.NodeId, "")
	if fs.ops.Release != nil {
		if ok {
			fs.ops.Release(path, input.Fh)
		} else {
			fs.hiddenPathsLock.Lock()
			hiddenPath, known := fs.hiddenPaths[input.NodeId]
			fs.hiddenPathsLock.Unlock()
			if known {
				fs.ops.Release(hiddenPath, input.Fh)
			}
		}
	}
	fs.table.RUnlock()

	if wasLastOpenOfHidden {
		fs.hiddenPathsLock.Lock()
		hiddenPath, known := fs.hiddenPaths[input.NodeId]
		delete(fs.hiddenPaths, input.NodeId)
		fs.hiddenPathsLock.Unlock()
		if known {
			fs.hidden.release(hiddenPath)
		}
	}
	recordDispatch("release", start, OK)
}

func (fs *FileSystem) Fsync(cancel <-chan struct{}, input *fuse.FsyncIn) fuse.Status {
	start := time.Now()
	if fs.ops.Fsync == nil {
		recordDispatch("fsync", start, NotImplemented)
		return NotImplemented
	}
	fs.table.RLock()
	defer fs.table.RUnlock()

	path, ok := fs.table.PathOf(input.NodeId, "")
	if !ok {
		recordDispatch("fsync", start, NotFound)
		return NotFound
	}
	dataOnly := input.FsyncFlags&1 != 0
	status := clampStatus(fs.ops.Fsync(path, input.Fh, dataOnly))
	recordDispatch("fsync", start, status)
	return status
}

func (fs *FileSystem) StatFs(cancel <-chan struct{}, header *fuse.InHeader, out *fuse.StatfsOut) fuse.Status {
	start := time.Now()
	if fs.ops.Statfs == nil {
		recordDispatch("statfs", start, NotImplemented)
		return NotImplemented
	}
	fs.table.RLock()
	defer fs.table.RUnlock()

	path, ok := fs.table.PathOf(header.NodeId, "")
	if !ok {
		recordDispatch("statfs", start, NotFound)
		return NotFound
	}
	result, status := fs.ops.Statfs(path)
	status = clampStatus(status)
	if status == OK {
		*out = result
	}
	recordDispatch("statfs", start, status)
	return status
}

func (fs *FileSystem) GetXAttr(cancel <-chan struct{}, header *fuse.InHeader, attr string, dest []byte) (uint32, fuse.Status) {
	start := time.Now()
	if fs.ops.Getxattr == nil {
		recordDispatch("getxattr", start, NotImplemented)
		return 0, NotImplemented
	}
	fs.table.RLock()
	defer fs.table.RUnlock()

	path, ok := fs.table.PathOf(header.NodeId, "")
	if !ok {
		recordDispatch("getxattr", start, NotFound)
		return 0, NotFound
	}
	data, status := fs.ops.Getxattr(path, attr)
	status = clampStatus(status)
	if status != OK {
		recordDispatch("getxattr", start, status)
		return 0, status
	}
	if len(dest) < len(data) {
		recordDispatch("getxattr", start, RangeError)
		return uint32(len(data)), RangeError
	}
	copy(dest, data)
	recordDispatch("getxattr", start, OK)
	return uint32(len(data)), OK
}

func (fs *FileSystem) ListXAttr(cancel <-chan struct{}, header *fuse.InHeader, dest []byte) (uint32, fuse.Status) {
	start := time.Now()
	if fs.ops.Listxattr == nil {
		recordDispatch("listxattr", start, NotImplemented)
		return 0, NotImplemented
	}
	fs.table.RLock()
	defer fs.table.RUnlock()

	path, ok := fs.table.PathOf(header.NodeId, "")
	if !ok {
		recordDispatch("listxattr", start, NotFound)
		return 0, NotFound
	}
	names, status := fs.ops.Listxattr(path)
	status = clampStatus(status)
	if status != OK {
		recordDispatch("listxattr", start, status)
		return 0, status
	}
	var size int
	for _, n := range names {
		size += len(n) + 1
	}
	if len(dest) < size {
		recordDispatch("listxattr", start, RangeError)
		return uint32(size), RangeError
	}
	off := 0
	for _, n := range names {
		off += copy(dest[off:], n)
		dest[off] = 0
		off++
	}
	recordDispatch("listxattr", start, OK)
	return uint32(size), OK
}

func (fs *FileSystem) SetXAttr(cancel <-chan struct{}, input *fuse.SetXAttrIn, attr string, data []byte) fuse.Status {
	start := time.Now()
	if fs.ops.Setxattr == nil {
		recordDispatch("setxattr", start, NotImplemented)
		return NotImplemented
	}
	fs.table.RLock()
	defer fs.table.RUnlock()

	path, ok := fs.table.PathOf(input.NodeId, "")
	if !ok {
		recordDispatch("setxattr", start, NotFound)
		return NotFound
	}
	status := clampStatus(fs.ops.Setxattr(path, attr, data, input.Flags))
	recordDispatch("setxattr", start, status)
	return status
}

func (fs *FileSystem) RemoveXAttr(cancel <-chan struct{}, header *fuse.InHeader, attr string) fuse.Status {
	start := time.Now()
	if fs.ops.Removexattr == nil {
		recordDispatch("removexattr", start, NotImplemented)
		return NotImplemented
	}
	fs.table.RLock()
	defer fs.table.RUnlock()

	path, ok := fs.table.PathOf(header.NodeId, "")
	if !ok {
		recordDispatch("removexattr", start, NotFound)
		return NotFound
	}
	status := clampStatus(fs.ops.Removexattr(path, attr))
	recordDispatch("removexattr", start, status)
	return status
}

// OpenDir, ReadDir, ReadDirPlus and ReleaseDir implement directory
// listing on top of the per-handle directory buffer.
func (fs *FileSystem) OpenDir(cancel <-chan struct{}, input *fuse.OpenIn, out *fuse.OpenOut) fuse.Status {
	if s := fs.checkAccess(&input.InHeader, "opendir"); s != OK {
		return s
	}
	start := time.Now()
	fs.table.RLock()
	path, ok := fs.table.PathOf(input.NodeId, "")
	if !ok {
		fs.table.RUnlock()
		recordDispatch("opendir", start, NotFound)
		return NotFound
	}

	dh := &dirHandle{path: path, dirID: input.NodeId}
	if fs.ops.Opendir != nil {
		fh, status := fs.ops.Opendir(path)
		status = clampStatus(status)
		if status != OK {
			fs.table.RUnlock()
			recordDispatch("opendir", start, status)
			return status
		}
		dh.userFh = fh
		dh.hasUser = true
	}
	fs.table.RUnlock()

	fs.dirHandlesLock.Lock()
	fs.nextDirHandle++
	out.Fh = fs.nextDirHandle
	fs.dirHandles[out.Fh] = dh
	fs.dirHandlesLock.Unlock()

	recordDispatch("opendir", start, OK)
	return OK
}

func (fs *FileSystem) ReadDir(cancel <-chan struct{}, input *fuse.ReadIn, out *fuse.DirEntryList) fuse.Status {
	start := time.Now()
	fs.dirHandlesLock.Lock()
	dh := fs.dirHandles[input.Fh]
	fs.dirHandlesLock.Unlock()
	if dh == nil {
		recordDispatch("readdir", start, NotFound)
		return NotFound
	}

	dh.mu.Lock()
	defer dh.mu.Unlock()

	if !dh.filled || input.Offset == 0 {
		if status := dh.fill(fs.ops, fs.options.UseIno, fs.options.ReaddirIno, fs.table, fs.sorter); status != OK {
			recordDispatch("readdir", start, status)
			return status
		}
	}
	dh.replay(input.Offset, out)
	recordDispatch("readdir", start, OK)
	return OK
}

func (fs *FileSystem) ReadDirPlus(cancel <-chan struct{}, input *fuse.ReadIn, out *fuse.DirEntryList) fuse.Status {
	return NotImplemented
}

func (fs *FileSystem) ReleaseDir(input *fuse.ReleaseIn) {
	fs.dirHandlesLock.Lock()
	dh := fs.dirHandles[input.Fh]
	delete(fs.dirHandles, input.Fh)
	fs.dirHandlesLock.Unlock()
	if dh == nil {
		return
	}
	if fs.ops.Releasedir != nil {
		fs.ops.Releasedir(dh.path, dh.userFh)
	}
}

func (fs *FileSystem) FsyncDir(cancel <-chan struct{}, input *fuse.FsyncIn) fuse.Status {
	start := time.Now()
	fs.dirHandlesLock.Lock()
	dh := fs.dirHandles[input.Fh]
	fs.dirHandlesLock.Unlock()
	if dh == nil {
		recordDispatch("fsyncdir", start, NotFound)
		return NotFound
	}
	if fs.ops.Fsyncdir == nil {
		recordDispatch("fsyncdir", start, NotImplemented)
		return NotImplemented
	}
	dataOnly := input.FsyncFlags&1 != 0
	status := clampStatus(fs.ops.Fsyncdir(dh.path, dh.userFh, dataOnly))
	recordDispatch("fsyncdir", start, status)
	return status
}

// Init is go-fuse's hook handing this dispatcher its server; the server
// is not retained, and the caller's Init hook is invoked if supplied.
// Protocol-major negotiation is handled
// inside fuse.Server before this is ever called; pathbridge only ever
// targets the current major and does not speak the legacy pre-7.x
// handshake.
func (fs *FileSystem) Init(server *fuse.Server) {
	if fs.ops.Init != nil {
		fs.ops.Init()
	}
}

// Destroy is invoked once by go-fuse as the mount is torn down, after the
// last request has been answered. It relays to the caller's Destroy hook,
// the Init/Destroy pair's unmount-time counterpart.
func (fs *FileSystem) Destroy() {
	if fs.ops.Destroy != nil {
		fs.ops.Destroy()
	}
}

// Unsupported opcodes: the Operations table has no analogue for
// byte-range locks, hole punching, seek-data/seek-hole, or reflink-style
// copies, so these simply report NotImplemented without consulting
// Operations at all.
func (fs *FileSystem) Lseek(cancel <-chan struct{}, in *fuse.LseekIn, out *fuse.LseekOut) fuse.Status {
	return NotImplemented
}
func (fs *FileSystem) GetLk(cancel <-chan struct{}, input *fuse.LkIn, out *fuse.LkOut) fuse.Status {
	return NotImplemented
}
func (fs *FileSystem) SetLk(cancel <-chan struct{}, input *fuse.LkIn) fuse.Status {
	return NotImplemented
}
func (fs *FileSystem) SetLkw(cancel <-chan struct{}, input *fuse.LkIn) fuse.Status {
	return NotImplemented
}
func (fs *FileSystem) CopyFileRange(cancel <-chan struct{}, input *fuse.CopyFileRangeIn) (uint32, fuse.Status) {
	return 0, NotImplemented
}
func (fs *FileSystem) Fallocate(cancel <-chan struct{}, input *fuse.FallocateIn) fuse.Status {
	return NotImplemented
}
