// +build darwin linux

package pathbridge

import (
	"time"

	"github.com/hanwen/go-fuse/v2/fuse"
)

// SetAttr applies the individually-maskable fields of a single request
// in a fixed sequence: mode first, owner
// and group together next, size third, and the two timestamps together
// last. Applying them out of order can change the outcome — truncating
// before a chmod that would have forbidden it, for instance — so the
// dispatcher always walks them in this fixed order and stops at the
// first failure rather than attempting the remaining fields.
func (fs *FileSystem) SetAttr(cancel <-chan struct{}, input *fuse.SetAttrIn, out *fuse.AttrOut) fuse.Status {
	if s := fs.checkAccess(&input.InHeader, "setattr"); s != OK {
		return s
	}
	start := time.Now()

	fs.table.RLock()
	defer fs.table.RUnlock()

	path, ok := fs.table.PathOf(input.NodeId, "")
	if !ok {
		recordDispatch("setattr", start, NotFound)
		return NotFound
	}

	if input.Valid&fuse.FATTR_MODE != 0 {
		if fs.ops.Chmod == nil {
			recordDispatch("setattr", start, NotImplemented)
			return NotImplemented
		}
		if status := clampStatus(fs.ops.Chmod(path, input.Mode)); status != OK {
			recordDispatch("setattr", start, status)
			return status
		}
	}

	if input.Valid&(fuse.FATTR_UID|fuse.FATTR_GID) != 0 {
		if fs.ops.Chown == nil {
			recordDispatch("setattr", start, NotImplemented)
			return NotImplemented
		}
		uid, gid := int32(-1), int32(-1)
		if input.Valid&fuse.FATTR_UID != 0 {
			uid = int32(input.Owner.Uid)
		}
		if input.Valid&fuse.FATTR_GID != 0 {
			gid = int32(input.Owner.Gid)
		}
		if status := clampStatus(fs.ops.Chown(path, uid, gid)); status != OK {
			recordDispatch("setattr", start, status)
			return status
		}
	}

	if input.Valid&fuse.FATTR_SIZE != 0 {
		if fs.ops.Truncate == nil {
			recordDispatch("setattr", start, NotImplemented)
			return NotImplemented
		}
		if status := clampStatus(fs.ops.Truncate(path, input.Size)); status != OK {
			recordDispatch("setattr", start, status)
			return status
		}
	}

	if input.Valid&(fuse.FATTR_ATIME|fuse.FATTR_MTIME) == (fuse.FATTR_ATIME | fuse.FATTR_MTIME) {
		if fs.ops.Utime == nil {
			recordDispatch("setattr", start, NotImplemented)
			return NotImplemented
		}
		atime := time.Unix(int64(input.Atime), int64(input.Atimensec))
		mtime := time.Unix(int64(input.Mtime), int64(input.Mtimensec))
		if status := clampStatus(fs.ops.Utime(path, atime, mtime)); status != OK {
			recordDispatch("setattr", start, status)
			return status
		}
	}

	if fs.ops.Getattr == nil {
		recordDispatch("setattr", start, NotImplemented)
		return NotImplemented
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
	recordDispatch("setattr", start, status)
	return status
}
