// +build darwin linux

package pathbridge

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/require"
)

var hiddenNamePattern = regexp.MustCompile(`^\.fuse_hidden[0-9a-f]{8}[0-9a-f]{8}$`)

func TestHiddenNameMatchesFuseHiddenConvention(t *testing.T) {
	h := &hiddenRenamer{}
	name := h.hiddenName(42)
	require.Regexp(t, hiddenNamePattern, name)
}

func TestHiddenNameNeverRepeatsWithinRetryBudget(t *testing.T) {
	h := &hiddenRenamer{}
	seen := make(map[string]bool)
	for i := 0; i < hiddenRetryBudget; i++ {
		name := h.hiddenName(7)
		require.False(t, seen[name], "hiddenName produced a repeat within one retry budget")
		seen[name] = true
	}
}

func TestHideRenamesOntoHiddenNameAndUpdatesTable(t *testing.T) {
	table := NewTable()
	table.LookupOrInsert(RootID, "busy.txt", 1)

	var renamedFrom, renamedTo string
	ops := &Operations{
		Rename: func(oldPath, newPath string) Status {
			renamedFrom, renamedTo = oldPath, newPath
			return OK
		},
		Unlink: func(path string) Status { return OK },
	}
	h := &hiddenRenamer{table: table, ops: ops}

	table.Lock()
	status := h.hide("/", RootID, "busy.txt")
	table.Unlock()

	require.Equal(t, OK, status)
	require.Equal(t, "/busy.txt", renamedFrom)
	require.Regexp(t, hiddenNamePattern, renamedTo[1:])
	require.NotEmpty(t, h.lastHidden)

	table.RLock()
	_, stillThere := table.lookupChildID(RootID, "busy.txt")
	table.RUnlock()
	require.False(t, stillThere, "the original name must no longer resolve after hiding")
}

func TestHideReportsBusyWithoutRenameOrUnlink(t *testing.T) {
	table := NewTable()
	table.LookupOrInsert(RootID, "busy.txt", 1)
	h := &hiddenRenamer{table: table, ops: &Operations{}}

	table.Lock()
	status := h.hide("/", RootID, "busy.txt")
	table.Unlock()
	require.Equal(t, Busy, status)
}

func TestHideStopsOnBackingRenameFailure(t *testing.T) {
	table := NewTable()
	table.LookupOrInsert(RootID, "busy.txt", 1)
	ops := &Operations{
		Rename: func(oldPath, newPath string) Status { return Access },
		Unlink: func(path string) Status { return OK },
	}
	h := &hiddenRenamer{table: table, ops: ops}

	table.Lock()
	status := h.hide("/", RootID, "busy.txt")
	table.Unlock()
	require.Equal(t, Access, status)
}

func TestReleaseInvokesUnlinkOnHiddenPath(t *testing.T) {
	var unlinked string
	ops := &Operations{Unlink: func(path string) Status {
		unlinked = path
		return OK
	}}
	h := &hiddenRenamer{ops: ops}

	status := h.release("/.fuse_hidden0000002a00000001")
	require.Equal(t, OK, status)
	require.Equal(t, "/.fuse_hidden0000002a00000001", unlinked)
}
