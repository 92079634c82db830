// +build darwin linux

package pathbridge

import (
	"fmt"
	"sync/atomic"
)

// hiddenRetryBudget is the number of candidate names hide will try
// before giving up.
const hiddenRetryBudget = 10

// hiddenRenamer implements the hide-on-busy-unlink policy: generate a
// unique dotfile name, rename the live entry onto it, and defer the real
// Unlink until the file's last Release.
type hiddenRenamer struct {
	table   *Table
	ops     *Operations
	counter uint64 // atomic, salts hiddenName candidates

	// lastHidden records the hidden name chosen by the most recent
	// successful hide call. hide is only ever invoked with the tree
	// lock held exclusively, and its caller reads lastHidden before
	// releasing that same lock, so no separate synchronization guards
	// this field.
	lastHidden string
}

// hiddenName synthesizes ".fuse_hidden<hex node id><hex counter>", in the
// same "%08x%08x" form classic fuse.c's hidden_name() uses.
func (h *hiddenRenamer) hiddenName(nodeID uint64) string {
	n := atomic.AddUint64(&h.counter, 1)
	return fmt.Sprintf(".fuse_hidden%08x%08x", uint32(nodeID), uint32(n))
}

// hide moves the node at (dirID, name) onto a synthesized hidden name in
// the same directory. The caller must already hold the tree lock
// exclusively (it is only ever invoked from the unlink/rename handlers,
// which already do). It returns Busy if the Operations table lacks Rename
// or Unlink (the hidden node could never be cleaned up), or if no free
// hidden name could be found within the retry budget.
func (h *hiddenRenamer) hide(dirPath string, dirID uint64, name string) Status {
	if h.ops.Rename == nil || h.ops.Unlink == nil {
		return Busy
	}

	oldPath := joinPath(dirPath, name)
	for i := 0; i < hiddenRetryBudget; i++ {
		hidden := h.hiddenName(dirID)
		if _, taken := h.table.lookupChildID(dirID, hidden); taken {
			continue
		}
		if h.ops.Getattr != nil {
			if _, status := h.ops.Getattr(joinPath(dirPath, hidden)); status == OK {
				// Something already exists at the candidate name on the
				// backing storage, even though our in-memory table
				// doesn't know about it. Try another candidate.
				continue
			}
		}

		newPath := joinPath(dirPath, hidden)
		if status := h.ops.Rename(oldPath, newPath); status != OK {
			return status
		}
		if status := h.table.Rename(dirID, name, dirID, hidden, true); status != OK {
			// The rename already happened on the backing store; the
			// node table just couldn't reflect it (Busy for an occupied
			// destination, NotFound for a vanished source). The
			// name-index probe above rules out the first under the lock
			// we now hold; either way the table's status is returned.
			return status
		}
		h.lastHidden = hidden
		return OK
	}
	return Busy
}

// release performs the deferred Unlink of a hidden node once its last
// open handle has been released.
func (h *hiddenRenamer) release(path string) Status {
	if h.ops.Unlink == nil {
		return Busy
	}
	return h.ops.Unlink(path)
}

func joinPath(dir, name string) string {
	if dir == "/" {
		return "/" + name
	}
	return dir + "/" + name
}
