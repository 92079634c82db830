// +build darwin linux

package pathbridge

import (
	"syscall"

	"github.com/hanwen/go-fuse/v2/fuse"
)

// Status is the reply-header error code returned by every dispatcher
// method and every Operations callback. It is exactly go-fuse's
// fuse.Status: the wire encoding (negated onto the reply header) is
// go-fuse's concern, not ours.
type Status = fuse.Status

// OK denotes success.
const OK = fuse.OK

// The error taxonomy callbacks and the dispatcher report errors with,
// named onto the closest errno fuse.Status already defines or, where
// go-fuse has no named constant, onto the matching syscall errno.
var (
	// NotFound covers an unknown identifier, a detached path component,
	// or a path too long to reconstruct. Never fatal.
	NotFound = fuse.ENOENT
	// NotImplemented is returned when the requested Operations field is
	// nil.
	NotImplemented = fuse.ENOSYS
	// NoMemory covers allocation failure in the node table, directory
	// buffer, or a transient marshalling buffer.
	NoMemory = fuse.Status(syscall.ENOMEM)
	// Access is returned by the allow-root gate.
	Access = fuse.EACCES
	// Busy is returned by the hidden-rename path when it cannot find a
	// free hidden name, or the Operations table has neither Rename nor
	// Unlink.
	Busy = fuse.EBUSY
	// ProtoError is returned if a non-init request arrives before init.
	// go-fuse's Server enforces this itself; this constant exists so
	// code written against this package's vocabulary reads consistently
	// even though the dispatcher never has occasion to return it
	// directly.
	ProtoError = fuse.Status(syscall.EPROTO)
	// RangeError replaces a user-callback status that does not fall in
	// the legal errno range.
	RangeError = fuse.ERANGE
)

// clampStatus replaces an out-of-range callback status with RangeError:
// a well-formed fuse.Status is a small positive errno (it gets negated by
// go-fuse before it hits the wire). Anything outside that range did not
// come from a sane errno and is not trustworthy to forward.
func clampStatus(s Status) Status {
	if s == OK {
		return OK
	}
	v := int32(s)
	if v <= 0 || v >= 1000 {
		return RangeError
	}
	return s
}
