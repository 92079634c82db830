// +build darwin linux

package pathbridge

import (
	"fmt"
	"strings"
)

// Options is the parsed form of the comma-separated mount option string
// accepted by ParseOptions.
type Options struct {
	// Debug enables verbose tracing of every request and reply.
	Debug bool
	// HardRemove disables hide-on-busy-unlink; unlinks are unconditional.
	HardRemove bool
	// UseIno trusts inode numbers supplied by the user's Getattr/Readdir
	// instead of overriding them with the synthesized node id.
	UseIno bool
	// AllowRoot restricts access to the filesystem owner and root.
	AllowRoot bool
	// ReaddirIno populates inode numbers in readdir entries by
	// consulting the node table when the user did not supply them.
	ReaddirIno bool
	// ShuffleDirectoryListings randomizes directory entry order instead
	// of the default alphabetic order, discouraging clients from relying
	// on listing order.
	ShuffleDirectoryListings bool
}

// ParseOptions parses a comma-separated option string (e.g.
// "debug,allow_root"). Unknown tokens are rejected: a filesystem
// that silently ignores a typoed option name is worse than one that
// refuses to mount.
func ParseOptions(s string) (Options, error) {
	var o Options
	if s == "" {
		return o, nil
	}
	for _, tok := range strings.Split(s, ",") {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		switch tok {
		case "debug":
			o.Debug = true
		case "hard_remove":
			o.HardRemove = true
		case "use_ino":
			o.UseIno = true
		case "allow_root":
			o.AllowRoot = true
		case "readdir_ino":
			o.ReaddirIno = true
		case "shuffle_dirents":
			o.ShuffleDirectoryListings = true
		default:
			return Options{}, fmt.Errorf("pathbridge: unrecognized option %q", tok)
		}
	}
	return o, nil
}
