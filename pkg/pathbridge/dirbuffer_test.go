// +build darwin linux

package pathbridge

import (
	"sort"
	"testing"

	"github.com/hanwen/go-fuse/v2/fuse"
	"github.com/stretchr/testify/require"
)

type fakeReadDirEntryList struct {
	entries []fuse.DirEntry
	cap     int
}

func (f *fakeReadDirEntryList) AddDirEntry(e fuse.DirEntry) bool {
	if f.cap > 0 && len(f.entries) >= f.cap {
		return false
	}
	f.entries = append(f.entries, e)
	return true
}

func TestDirHandleFillAndReplay(t *testing.T) {
	dh := &dirHandle{path: "/dir", dirID: RootID}
	ops := &Operations{
		Readdir: func(path string, handle uint64, fill FillFunc) Status {
			require.Equal(t, "/dir", path)
			fill("b.txt", Attr{Mode: 0100644})
			fill("a.txt", Attr{Mode: 0100644})
			return OK
		},
	}

	status := dh.fill(ops, false, false, NewTable(), sort.Sort)
	require.Equal(t, OK, status)
	require.True(t, dh.filled)
	require.Equal(t, []string{"a.txt", "b.txt"}, entryNames(dh.entries))

	out := &fakeReadDirEntryList{}
	dh.replay(0, out)
	require.Len(t, out.entries, 2)
	require.Equal(t, "a.txt", out.entries[0].Name)
}

func TestDirHandleReplayHonorsWindowLimit(t *testing.T) {
	dh := &dirHandle{entries: []bufferedEntry{
		{name: "one"}, {name: "two"}, {name: "three"},
	}, filled: true}

	out := &fakeReadDirEntryList{cap: 2}
	dh.replay(0, out)
	require.Len(t, out.entries, 2)
}

func TestDirHandleReplayFromOffset(t *testing.T) {
	dh := &dirHandle{entries: []bufferedEntry{
		{name: "one"}, {name: "two"}, {name: "three"},
	}, filled: true}

	out := &fakeReadDirEntryList{}
	dh.replay(1, out)
	require.Equal(t, []string{"two", "three"}, entryNamesFromList(out.entries))
}

func TestDirHandleFillFailsWithoutReaddirCallback(t *testing.T) {
	dh := &dirHandle{path: "/dir"}
	status := dh.fill(&Operations{}, false, false, NewTable(), nil)
	require.Equal(t, NotImplemented, status)
}

func entryNames(entries []bufferedEntry) []string {
	var names []string
	for _, e := range entries {
		names = append(names, e.name)
	}
	return names
}

func entryNamesFromList(entries []fuse.DirEntry) []string {
	var names []string
	for _, e := range entries {
		names = append(names, e.Name)
	}
	return names
}
