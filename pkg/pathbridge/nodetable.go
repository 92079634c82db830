// +build darwin linux

package pathbridge

import (
	"log"
	"strings"
	"sync"
)

// RootID is the node identifier FUSE reserves for the mount point's root
// directory. It matches fuse.FUSE_ROOT_ID and is never allocated to any
// other node.
const RootID = 1

// maxPathLength bounds the string PathOf will reconstruct. It mirrors the
// PATH_MAX a real kernel enforces; nodes deeper than this are rejected
// rather than silently truncated.
const maxPathLength = 4096

// Node is one entry of the Table: the kernel-visible identity of a single
// filesystem object plus everything needed to translate it back into a
// pathname.
//
// Fields are only ever mutated while Table.nodeLock is held.
type Node struct {
	id         uint64
	generation uint64
	parentID   uint64 // 0 when detached from the tree
	name       string // empty when detached from the tree
	refctr     uint32 // children pointing here as parent, plus one for self
	nlookup    uint64 // outstanding kernel lookups
	openCount  uint32 // successful opens not yet released
	isHidden   bool   // renamed to a .fuse_hidden shadow, pending delete
	version    uint64 // request id of the most recent successful lookup
}

// ID returns the node's kernel-visible identifier.
func (n *Node) ID() uint64 { return n.id }

// Generation returns the epoch distinguishing this node from an earlier
// incarnation of a reused identifier.
func (n *Node) Generation() uint64 { return n.generation }

// IsHidden reports whether this node has been renamed to a .fuse_hidden
// shadow name pending deletion on last close.
func (n *Node) IsHidden() bool { return n.isHidden }

// OpenCount reports the number of outstanding opens against this node.
func (n *Node) OpenCount() uint32 { return n.openCount }

type childKey struct {
	parentID uint64
	name     string
}

// Table is the in-memory, in-process node table: a directed graph of
// nodes keyed by a 64-bit identifier, indexed a second
// time by (parent, name) for child lookups.
//
// The tree lock (RWMutex) guarantees a path string handed to a user
// callback stays valid for the callback's duration: path-reconstructing
// operations hold it for reading, namespace mutations (unlink, rmdir,
// rename) hold it exclusively. The node lock is a plain mutex protecting
// the hash indices, refcounts, open counts and hidden flags; it is held
// only for short critical sections and never across a user callback.
type Table struct {
	treeLock sync.RWMutex
	nodeLock sync.Mutex

	byID         map[uint64]*Node
	byParentName map[childKey]*Node

	nextID     uint64
	generation uint64
}

// NewTable constructs a Table containing only the root node.
func NewTable() *Table {
	t := &Table{
		byID:         make(map[uint64]*Node),
		byParentName: make(map[childKey]*Node),
		nextID:       RootID + 1,
	}
	root := &Node{
		id:       RootID,
		parentID: 0,
		name:     "/",
		refctr:   1,
		nlookup:  1,
	}
	t.byID[RootID] = root
	// The root is intentionally absent from byParentName: it has no
	// parent to be looked up underneath.
	return t
}

// Lock acquires the tree lock in the mode path-reconstructing (shared) or
// namespace-mutating (exclusive) operations require.
func (t *Table) RLock()   { t.treeLock.RLock() }
func (t *Table) RUnlock() { t.treeLock.RUnlock() }
func (t *Table) Lock()    { t.treeLock.Lock() }
func (t *Table) Unlock()  { t.treeLock.Unlock() }

func (t *Table) allocateID() uint64 {
	for {
		id := t.nextID
		t.nextID++
		if t.nextID == 0 {
			// Counter wrapped. Skip zero and bump the generation so a
			// kernel holding the earlier incarnation's id can tell the
			// two apart.
			t.nextID = 1
			t.generation++
		}
		if id == 0 {
			continue
		}
		if _, live := t.byID[id]; live {
			continue
		}
		return id
	}
}

// LookupOrInsert resolves (parentID, name) to a Node, creating one if none
// exists yet. An existing node has its nlookup bumped; a fresh node starts
// at nlookup 1 and is attached under parentID (incrementing the parent's
// refctr). version is stashed for diagnostic purposes: the request id of
// the most recent successful lookup against this node.
//
// The caller must hold the tree lock (at least shared) so that the parent
// cannot be renamed or removed concurrently.
func (t *Table) LookupOrInsert(parentID uint64, name string, version uint64) *Node {
	t.nodeLock.Lock()
	defer t.nodeLock.Unlock()

	key := childKey{parentID, name}
	if n, ok := t.byParentName[key]; ok {
		n.nlookup++
		n.version = version
		return n
	}

	parent, ok := t.byID[parentID]
	if !ok {
		log.Panicf("pathbridge: LookupOrInsert against unknown parent id %d", parentID)
	}

	n := &Node{
		id:         t.allocateID(),
		generation: t.generation,
		parentID:   parentID,
		name:       name,
		refctr:     1,
		nlookup:    1,
		version:    version,
	}
	t.byID[n.id] = n
	t.byParentName[key] = n
	parent.refctr++
	return n
}

// Get resolves an identifier the kernel has handed back to us. Because the
// kernel only ever references identifiers this table gave it, a miss means
// the table has lost track of live state — an internal bug, not a
// resolution failure — so this aborts the process rather than return an
// error the kernel could mistake for an ordinary ENOENT.
func (t *Table) Get(id uint64) *Node {
	t.nodeLock.Lock()
	defer t.nodeLock.Unlock()
	n, ok := t.byID[id]
	if !ok {
		log.Panicf("pathbridge: kernel referenced unknown node id %d", id)
	}
	return n
}

// PathOf reconstructs the absolute path of id, optionally appending a
// trailing child name for operations (mknod, mkdir, lookup, ...) whose
// target has not been created yet. It returns ok=false if any link on the
// parent chain has been detached (empty name), or if the reconstructed
// path would exceed maxPathLength.
//
// The caller must hold the tree lock.
func (t *Table) PathOf(id uint64, extra string) (path string, ok bool) {
	t.nodeLock.Lock()
	segments := make([]string, 0, 8)
	if extra != "" {
		segments = append(segments, extra)
	}
	cur := id
	for cur != RootID {
		n, exists := t.byID[cur]
		if !exists {
			t.nodeLock.Unlock()
			log.Panicf("pathbridge: PathOf walked into unknown node id %d", cur)
		}
		if n.name == "" || n.parentID == 0 {
			t.nodeLock.Unlock()
			return "", false
		}
		segments = append(segments, n.name)
		cur = n.parentID
	}
	t.nodeLock.Unlock()

	if len(segments) == 0 {
		return "/", true
	}
	var b strings.Builder
	for i := len(segments) - 1; i >= 0; i-- {
		b.WriteByte('/')
		b.WriteString(segments[i])
	}
	if b.Len() > maxPathLength {
		return "", false
	}
	return b.String(), true
}

// detachLocked removes n from the name index and drops the parent's
// refctr. It does not free n; the node is kept alive (as an unnamed node)
// while nlookup or openCount remain non-zero.
func (t *Table) detachLocked(n *Node) {
	if n.name == "" {
		return
	}
	delete(t.byParentName, childKey{n.parentID, n.name})
	if parent, ok := t.byID[n.parentID]; ok {
		parent.refctr--
		if parent.refctr == 0 && parent.id != RootID {
			delete(t.byID, parent.id)
		}
	}
	n.name = ""
	n.parentID = 0
}

// Remove detaches the node at (parentID, name) from the tree. The node
// itself is only freed once nlookup and openCount both reach zero; a node
// with open handles is retained as an unnamed, unlinked node so in-flight
// reads and writes against it keep working.
func (t *Table) Remove(parentID uint64, name string) {
	t.nodeLock.Lock()
	defer t.nodeLock.Unlock()

	n, ok := t.byParentName[childKey{parentID, name}]
	if !ok {
		return
	}
	t.detachLocked(n)
	if n.nlookup == 0 && n.openCount == 0 {
		delete(t.byID, n.id)
	}
}

// Rename rebinds the node currently at (oldParent, oldName) to
// (newParent, newName). If a node already occupies the destination, it is
// detached first — unless hide is set, in which case a live occupant at
// the destination is reported as BUSY so the caller can run the
// hidden-rename policy instead of clobbering an open file.
//
// When hide is true the moved node is marked isHidden.
func (t *Table) Rename(oldParentID uint64, oldName string, newParentID uint64, newName string, hide bool) Status {
	t.nodeLock.Lock()
	defer t.nodeLock.Unlock()

	n, ok := t.byParentName[childKey{oldParentID, oldName}]
	if !ok {
		return NotFound
	}

	destKey := childKey{newParentID, newName}
	if dest, occupied := t.byParentName[destKey]; occupied && dest != n {
		if hide {
			return Busy
		}
		t.detachLocked(dest)
		if dest.nlookup == 0 && dest.openCount == 0 {
			delete(t.byID, dest.id)
		}
	}

	delete(t.byParentName, childKey{oldParentID, oldName})
	if oldParentID != newParentID {
		if oldParent, ok := t.byID[oldParentID]; ok {
			oldParent.refctr--
		}
		if newParent, ok := t.byID[newParentID]; ok {
			newParent.refctr++
		}
	}
	n.parentID = newParentID
	n.name = newName
	t.byParentName[destKey] = n
	if hide {
		n.isHidden = true
	}
	return OK
}

// Forget decrements nlookup by count. Reaching zero detaches the node (if
// still attached) and, if it has no live children (refctr holding at its
// baseline value of 1, counting only the node itself), frees it. A
// directory that still has children is kept in byID even once its own
// nlookup and name are gone, so those children can still resolve their
// parent pointer.
// Forgetting the root is defined as a no-op: it has no parent link to
// detach and must survive for the lifetime of the mount.
func (t *Table) Forget(id uint64, count uint64) {
	if id == RootID {
		return
	}
	t.nodeLock.Lock()
	defer t.nodeLock.Unlock()

	n, ok := t.byID[id]
	if !ok {
		return
	}
	if count > n.nlookup {
		n.nlookup = 0
	} else {
		n.nlookup -= count
	}
	if n.nlookup != 0 {
		return
	}
	if n.name != "" {
		t.detachLocked(n)
	}
	if n.refctr <= 1 && n.openCount == 0 {
		delete(t.byID, id)
	}
}

// IsOpen reports whether the node currently bound to (parentID, name) has
// at least one outstanding open handle.
func (t *Table) IsOpen(parentID uint64, name string) bool {
	t.nodeLock.Lock()
	defer t.nodeLock.Unlock()
	n, ok := t.byParentName[childKey{parentID, name}]
	return ok && n.openCount > 0
}

// addOpen increments a node's open count.
func (t *Table) addOpen(id uint64) {
	t.nodeLock.Lock()
	defer t.nodeLock.Unlock()
	if n, ok := t.byID[id]; ok {
		n.openCount++
	}
}

// dropOpen decrements a node's open count and reports whether this was
// the last open of a hidden node (the moment its backing storage should be
// unlinked for real).
func (t *Table) dropOpen(id uint64) (wasLastOpenOfHidden bool) {
	t.nodeLock.Lock()
	defer t.nodeLock.Unlock()
	n, ok := t.byID[id]
	if !ok {
		return false
	}
	if n.openCount > 0 {
		n.openCount--
	}
	wasLastOpenOfHidden = n.isHidden && n.openCount == 0
	if n.nlookup == 0 && n.openCount == 0 && n.name == "" {
		delete(t.byID, id)
	}
	return wasLastOpenOfHidden
}

// count reports the number of live nodes, for leak-convergence tests.
func (t *Table) count() int {
	t.nodeLock.Lock()
	defer t.nodeLock.Unlock()
	return len(t.byID)
}
