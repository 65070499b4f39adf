package writer

import (
	"os"
	"syscall"

	"github.com/cockroachdb/errors"
)

// ensureDir creates dir with mode 0770 if it doesn't exist yet,
// tolerating the time-of-check-to-time-of-use race between processes
// (EEXIST on the create itself, not on a pre-check, is success).
// parent is dir's parent, stat'd again on failure to enrich the
// diagnostic with ownership information.
func ensureDir(dir, parent string) error {
	if _, err := os.Stat(dir); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return errors.Wrapf(err, "writer: could not stat folder %s", dir)
	}

	if err := os.Mkdir(dir, 0770); err != nil {
		if os.IsExist(err) {
			return nil
		}
		return errors.Wrapf(wrapWithOwnership(err, parent), "writer: could not create trace folder %s", dir)
	}
	return nil
}

// wrapWithOwnership adds the parent folder's owner uid/gid and the
// calling process's effective uid/gid to err, re-stat'ing the parent
// before wrapping.
func wrapWithOwnership(err error, parent string) error {
	fi, statErr := os.Stat(parent)
	if statErr != nil {
		return errors.Wrapf(err, "writer: could not stat(%s) while building diagnostic", parent)
	}
	st, ok := fi.Sys().(*syscall.Stat_t)
	if !ok {
		return err
	}
	return errors.Wrapf(err,
		"writer: %s owned by uid=%d gid=%d; process euid=%d egid=%d",
		parent, st.Uid, st.Gid, os.Geteuid(), os.Getegid())
}
