// +build darwin linux

package pathbridge_test

import (
	"strings"
	"testing"

	"github.com/hanwen/go-fuse/v2/fuse"
	"github.com/stretchr/testify/require"

	"github.com/pathbridge/pathbridge/pkg/pathbridge"
)

func TestLookupBindsNodeAndFillsEntry(t *testing.T) {
	ops := pathbridge.Operations{
		Getattr: func(path string) (pathbridge.Attr, pathbridge.Status) {
			require.Equal(t, "/greeting.txt", path)
			return pathbridge.Attr{Mode: fuse.S_IFREG | 0644, Size: 5}, pathbridge.OK
		},
	}
	fs := pathbridge.NewFileSystem(ops, pathbridge.Options{})

	var out fuse.EntryOut
	status := fs.Lookup(nil, &fuse.InHeader{NodeId: pathbridge.RootID}, "greeting.txt", &out)
	require.Equal(t, pathbridge.OK, status)
	require.NotZero(t, out.NodeId)
	require.Equal(t, uint64(5), out.Attr.Size)
}

func TestLookupPropagatesNotFound(t *testing.T) {
	ops := pathbridge.Operations{
		Getattr: func(path string) (pathbridge.Attr, pathbridge.Status) {
			return pathbridge.Attr{}, pathbridge.NotFound
		},
	}
	fs := pathbridge.NewFileSystem(ops, pathbridge.Options{})

	var out fuse.EntryOut
	status := fs.Lookup(nil, &fuse.InHeader{NodeId: pathbridge.RootID}, "missing.txt", &out)
	require.Equal(t, pathbridge.NotFound, status)
}

func TestUnlinkHidesBusyFile(t *testing.T) {
	var renamedTo string
	unlinkCalls := 0
	ops := pathbridge.Operations{
		Getattr: func(path string) (pathbridge.Attr, pathbridge.Status) {
			// No hidden candidate exists on the backing store yet.
			if strings.Contains(path, ".fuse_hidden") {
				return pathbridge.Attr{}, pathbridge.NotFound
			}
			return pathbridge.Attr{Mode: fuse.S_IFREG | 0644}, pathbridge.OK
		},
		Open: func(path string, flags uint32) (uint64, pathbridge.Status) {
			return 1, pathbridge.OK
		},
		Rename: func(oldPath, newPath string) pathbridge.Status {
			renamedTo = newPath
			return pathbridge.OK
		},
		Unlink: func(path string) pathbridge.Status {
			unlinkCalls++
			return pathbridge.OK
		},
	}
	fs := pathbridge.NewFileSystem(ops, pathbridge.Options{})

	var entry fuse.EntryOut
	require.Equal(t, pathbridge.OK, fs.Lookup(nil, &fuse.InHeader{NodeId: pathbridge.RootID}, "open.txt", &entry))

	var openOut fuse.OpenOut
	require.Equal(t, pathbridge.OK, fs.Open(nil, &fuse.OpenIn{InHeader: fuse.InHeader{NodeId: entry.NodeId}}, &openOut))

	status := fs.Unlink(nil, &fuse.InHeader{NodeId: pathbridge.RootID}, "open.txt")
	require.Equal(t, pathbridge.OK, status)
	require.Contains(t, renamedTo, ".fuse_hidden")
	require.Equal(t, 0, unlinkCalls, "the real unlink must be deferred until release")

	fs.Release(nil, &fuse.ReleaseIn{InHeader: fuse.InHeader{NodeId: entry.NodeId}, Fh: openOut.Fh})
	require.Equal(t, 1, unlinkCalls, "release of the last handle must perform the deferred unlink")
}

func TestUnlinkRemovesDirectlyWhenNotBusy(t *testing.T) {
	unlinked := ""
	ops := pathbridge.Operations{
		Getattr: func(path string) (pathbridge.Attr, pathbridge.Status) {
			return pathbridge.Attr{Mode: fuse.S_IFREG | 0644}, pathbridge.OK
		},
		Unlink: func(path string) pathbridge.Status {
			unlinked = path
			return pathbridge.OK
		},
	}
	fs := pathbridge.NewFileSystem(ops, pathbridge.Options{})

	status := fs.Unlink(nil, &fuse.InHeader{NodeId: pathbridge.RootID}, "quiet.txt")
	require.Equal(t, pathbridge.OK, status)
	require.Equal(t, "/quiet.txt", unlinked)
}

func TestUnlinkHardRemoveSkipsHiding(t *testing.T) {
	unlinked := ""
	ops := pathbridge.Operations{
		Getattr: func(path string) (pathbridge.Attr, pathbridge.Status) {
			return pathbridge.Attr{Mode: fuse.S_IFREG | 0644}, pathbridge.OK
		},
		Open: func(path string, flags uint32) (uint64, pathbridge.Status) {
			return 1, pathbridge.OK
		},
		Unlink: func(path string) pathbridge.Status {
			unlinked = path
			return pathbridge.OK
		},
	}
	fs := pathbridge.NewFileSystem(ops, pathbridge.Options{HardRemove: true})

	var entry fuse.EntryOut
	require.Equal(t, pathbridge.OK, fs.Lookup(nil, &fuse.InHeader{NodeId: pathbridge.RootID}, "open.txt", &entry))
	var openOut fuse.OpenOut
	require.Equal(t, pathbridge.OK, fs.Open(nil, &fuse.OpenIn{InHeader: fuse.InHeader{NodeId: entry.NodeId}}, &openOut))

	status := fs.Unlink(nil, &fuse.InHeader{NodeId: pathbridge.RootID}, "open.txt")
	require.Equal(t, pathbridge.OK, status)
	require.Equal(t, "/open.txt", unlinked)
}

func TestAllowRootRejectsOtherUsers(t *testing.T) {
	ops := pathbridge.Operations{
		Getattr: func(path string) (pathbridge.Attr, pathbridge.Status) {
			return pathbridge.Attr{}, pathbridge.OK
		},
	}
	fs := pathbridge.NewFileSystem(ops, pathbridge.Options{AllowRoot: true})

	header := &fuse.InHeader{NodeId: pathbridge.RootID}
	header.Caller.Uid = 65534 // certainly not this process's uid nor root
	var out fuse.AttrOut
	status := fs.GetAttr(nil, &fuse.GetAttrIn{InHeader: *header}, &out)
	require.Equal(t, pathbridge.Access, status)
}

func TestAllowRootPermitsWhitelistedOpcodes(t *testing.T) {
	readCalled := false
	ops := pathbridge.Operations{
		Getattr: func(path string) (pathbridge.Attr, pathbridge.Status) {
			return pathbridge.Attr{}, pathbridge.OK
		},
		Read: func(path string, handle uint64, buf []byte, offset int64) (fuse.ReadResult, pathbridge.Status) {
			readCalled = true
			return fuse.ReadResultData(nil), pathbridge.OK
		},
	}
	fs := pathbridge.NewFileSystem(ops, pathbridge.Options{AllowRoot: true})

	header := fuse.InHeader{NodeId: pathbridge.RootID}
	header.Caller.Uid = 65534
	_, status := fs.Read(nil, &fuse.ReadIn{InHeader: header}, make([]byte, 16))
	require.Equal(t, pathbridge.OK, status)
	require.True(t, readCalled)
}

func TestRenameMovesEntryInTable(t *testing.T) {
	ops := pathbridge.Operations{
		Getattr: func(path string) (pathbridge.Attr, pathbridge.Status) {
			return pathbridge.Attr{Mode: fuse.S_IFDIR | 0755}, pathbridge.OK
		},
		Mkdir: func(path string, mode uint32) (pathbridge.Attr, pathbridge.Status) {
			return pathbridge.Attr{Mode: fuse.S_IFDIR | 0755}, pathbridge.OK
		},
		Rename: func(oldPath, newPath string) pathbridge.Status {
			require.Equal(t, "/a.txt", oldPath)
			require.Equal(t, "/dir/b.txt", newPath)
			return pathbridge.OK
		},
	}
	fs := pathbridge.NewFileSystem(ops, pathbridge.Options{})

	var dirEntry fuse.EntryOut
	require.Equal(t, pathbridge.OK, fs.Mkdir(nil, &fuse.MkdirIn{InHeader: fuse.InHeader{NodeId: pathbridge.RootID}}, "dir", &dirEntry))

	var fileEntry fuse.EntryOut
	require.Equal(t, pathbridge.OK, fs.Lookup(nil, &fuse.InHeader{NodeId: pathbridge.RootID}, "a.txt", &fileEntry))

	status := fs.Rename(nil, &fuse.RenameIn{
		InHeader: fuse.InHeader{NodeId: pathbridge.RootID},
		Newdir:   dirEntry.NodeId,
	}, "a.txt", "b.txt")
	require.Equal(t, pathbridge.OK, status)

	var movedEntry fuse.EntryOut
	require.Equal(t, pathbridge.OK, fs.Lookup(nil, &fuse.InHeader{NodeId: dirEntry.NodeId}, "b.txt", &movedEntry))
	require.Equal(t, fileEntry.NodeId, movedEntry.NodeId, "the renamed entry must keep its node id")
}
