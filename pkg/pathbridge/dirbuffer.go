// +build darwin linux

package pathbridge

import (
	"math/rand"
	"sort"
	"sync"

	"github.com/hanwen/go-fuse/v2/fuse"
)

// dirEntryAdder is satisfied by *fuse.DirEntryList; it lets tests replay
// into a fake without depending on the wire-level encoding.
type dirEntryAdder interface {
	AddDirEntry(fuse.DirEntry) bool
}

// bufferedEntry is one accumulated directory entry, as produced by the
// user's fill callback. The byte-level encoding and alignment padding of
// the actual wire record is left to go-fuse's fuse.DirEntryList, which
// dirHandle.replay writes into.
type bufferedEntry struct {
	name string
	attr Attr
}

// Sorter orders a dirHandle's buffered entries in place, once, right
// after a fill completes and before the first replay. Its signature
// matches sort.Sort, so sort.Sort itself is a valid Sorter — the default,
// giving alphabetic-by-name order — alongside Shuffle.
type Sorter func(data sort.Interface)

var _ Sorter = sort.Sort

// Shuffle randomizes entry order using the Fisher-Yates algorithm,
// selected by the ShuffleDirectoryListings option in place of the
// default alphabetic order, to discourage clients from depending on
// directory listing order.
func Shuffle(data sort.Interface) {
	rand.Shuffle(data.Len(), data.Swap)
}

// entrySorter adapts a dirHandle's buffered entries to sort.Interface so
// a Sorter can reorder them, ordering alphabetically by name when used
// with sort.Sort directly.
type entrySorter []bufferedEntry

func (s entrySorter) Len() int           { return len(s) }
func (s entrySorter) Less(i, j int) bool { return s[i].name < s[j].name }
func (s entrySorter) Swap(i, j int)      { s[i], s[j] = s[j], s[i] }

// dirHandle is the per-opendir directory buffer: a growable list of
// entries produced by one call into the user's Readdir, replayed in
// windowed slices across however many ReadDir requests the kernel needs
// to walk the whole directory.
//
// It carries its own lock so fill and slice never race for a single open
// directory stream, independent of the tree lock.
type dirHandle struct {
	mu      sync.Mutex
	path    string
	dirID   uint64 // node id of the directory, for ReaddirIno enrichment
	userFh  uint64 // handle returned by Operations.Opendir, if any
	hasUser bool

	filled  bool
	entries []bufferedEntry
}

// fill populates dh.entries by invoking the user's Readdir exactly once.
// It is called lazily, on the first ReadDir against this handle or
// whenever the kernel restarts the stream at offset 0: reading at offset 0
// after EOF restarts the fill.
func (dh *dirHandle) fill(ops *Operations, useIno, readdirIno bool, table *Table, sorter Sorter) Status {
	dh.entries = dh.entries[:0]
	dh.filled = false

	if ops.Readdir == nil {
		return NotImplemented
	}

	collect := func(name string, attr Attr) bool {
		if attr.Ino == 0 && !useIno && readdirIno {
			if n, ok := table.lookupChildID(dh.dirID, name); ok {
				attr.Ino = n
			}
		}
		dh.entries = append(dh.entries, bufferedEntry{name: name, attr: attr})
		return true
	}

	status := ops.Readdir(dh.path, dh.userFh, collect)
	if status != OK {
		return status
	}
	if sorter != nil {
		sorter(entrySorter(dh.entries))
	}
	dh.filled = true
	return OK
}

// replay slices dh.entries starting at offset into out, stopping either
// when the entries are exhausted or when out reports its window is full.
// The kernel is responsible for re-issuing ReadDir with an advanced
// offset to continue.
func (dh *dirHandle) replay(offset uint64, out dirEntryAdder) {
	if offset >= uint64(len(dh.entries)) {
		return
	}
	for _, e := range dh.entries[offset:] {
		entry := fuse.DirEntry{
			Mode: e.attr.Mode,
			Name: e.name,
			Ino:  e.attr.Ino,
		}
		if !out.AddDirEntry(entry) {
			return
		}
	}
}

// lookupChildID exposes the (parentID, name) -> id mapping used for the
// ReaddirIno option: it consults the name index when the user's Readdir
// left an entry's inode number unset.
func (t *Table) lookupChildID(parentID uint64, name string) (uint64, bool) {
	t.nodeLock.Lock()
	defer t.nodeLock.Unlock()
	n, ok := t.byParentName[childKey{parentID, name}]
	if !ok {
		return 0, false
	}
	return n.id, true
}
