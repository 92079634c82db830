// +build darwin linux

package pathbridge

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTableLookupOrInsertAssignsStableIDs(t *testing.T) {
	table := NewTable()

	n1 := table.LookupOrInsert(RootID, "a", 1)
	n2 := table.LookupOrInsert(RootID, "a", 2)
	require.Equal(t, n1.ID(), n2.ID(), "repeated lookups of the same name must resolve to the same node")

	n3 := table.LookupOrInsert(RootID, "b", 3)
	require.NotEqual(t, n1.ID(), n3.ID())
}

func TestTablePathOfReconstructsNestedPaths(t *testing.T) {
	table := NewTable()

	dir := table.LookupOrInsert(RootID, "dir", 1)
	table.RLock()
	path, ok := table.PathOf(dir.ID(), "")
	table.RUnlock()
	require.True(t, ok)
	require.Equal(t, "/dir", path)

	child := table.LookupOrInsert(dir.ID(), "child.txt", 2)
	table.RLock()
	path, ok = table.PathOf(child.ID(), "")
	table.RUnlock()
	require.True(t, ok)
	require.Equal(t, "/dir/child.txt", path)

	table.RLock()
	path, ok = table.PathOf(dir.ID(), "new.txt")
	table.RUnlock()
	require.True(t, ok)
	require.Equal(t, "/dir/new.txt", path)
}

func TestTablePathOfFailsAfterDetachment(t *testing.T) {
	table := NewTable()
	dir := table.LookupOrInsert(RootID, "dir", 1)
	child := table.LookupOrInsert(dir.ID(), "child", 1)

	table.Lock()
	table.Remove(dir.ID(), "child")
	table.Unlock()

	table.RLock()
	_, ok := table.PathOf(child.ID(), "")
	table.RUnlock()
	require.False(t, ok)
}

func TestTableForgetReleasesNodeOnceRefsDrain(t *testing.T) {
	table := NewTable()
	n := table.LookupOrInsert(RootID, "f", 1)
	require.Equal(t, 2, table.count()) // root + f

	table.Lock()
	table.Remove(RootID, "f")
	table.Unlock()

	// nlookup is still 1: the node survives detachment until Forget
	// drains it, so in-flight operations against it keep working.
	require.Equal(t, 2, table.count())

	table.Forget(n.ID(), 1)
	require.Equal(t, 1, table.count())
}

func TestTableForgetRootIsNoop(t *testing.T) {
	table := NewTable()
	table.Forget(RootID, 1000)
	require.Equal(t, 1, table.count())
}

func TestTableRenameMovesNode(t *testing.T) {
	table := NewTable()
	src := table.LookupOrInsert(RootID, "dir", 1)
	file := table.LookupOrInsert(src.ID(), "file", 1)

	dst := table.LookupOrInsert(RootID, "other", 1)

	table.Lock()
	status := table.Rename(src.ID(), "file", dst.ID(), "moved", false)
	table.Unlock()
	require.Equal(t, OK, status)

	table.RLock()
	path, ok := table.PathOf(file.ID(), "")
	table.RUnlock()
	require.True(t, ok)
	require.Equal(t, "/other/moved", path)
}

func TestTableRenameReportsBusyForOccupiedHideDestination(t *testing.T) {
	table := NewTable()
	table.LookupOrInsert(RootID, "victim", 1)
	mover := table.LookupOrInsert(RootID, "mover", 1)

	table.Lock()
	status := table.Rename(RootID, "mover", RootID, "victim", true)
	table.Unlock()
	require.Equal(t, Busy, status)

	// the source entry must still be in place; a refused hide-rename
	// must not have moved anything.
	table.RLock()
	path, ok := table.PathOf(mover.ID(), "")
	table.RUnlock()
	require.True(t, ok)
	require.Equal(t, "/mover", path)
}

func TestTableIsOpenTracksOpenCount(t *testing.T) {
	table := NewTable()
	n := table.LookupOrInsert(RootID, "f", 1)
	require.False(t, table.IsOpen(RootID, "f"))

	table.addOpen(n.ID())
	require.True(t, table.IsOpen(RootID, "f"))

	wasHidden := table.dropOpen(n.ID())
	require.False(t, wasHidden)
	require.False(t, table.IsOpen(RootID, "f"))
}
