// Package osutil abstracts the OS interactions the commands need - notably downgrading process
// privileges via setuid/setgid/chroot after the privileged listen sockets are bound. Much of that
// is disabled on Linux; see allowed_linux.go.
package osutil

import (
	"fmt"
	"os"
	"os/user"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

const (
	me = "osutil.Constrain: "
)

// lookupIDs converts the symbolic user and group names into numeric ids, returning -1 for any
// name not supplied. This must happen before any chroot while /etc/passwd (or the moral
// equivalent) is still reachable.
func lookupIDs(userName, groupName string) (uid, gid int, err error) {
	uid, gid = -1, -1
	if len(userName) > 0 {
		u, lerr := user.Lookup(userName)
		if lerr != nil {
			return -1, -1, fmt.Errorf(me+"Lookup failed: %s", lerr.Error())
		}
		uid, lerr = strconv.Atoi(u.Uid)
		if lerr != nil {
			return -1, -1, fmt.Errorf(me+"Could not convert UID %s to an int: %s", u.Uid, lerr.Error())
		}
	}

	if len(groupName) > 0 {
		g, lerr := user.LookupGroup(groupName)
		if lerr != nil {
			return -1, -1, fmt.Errorf(me+"Could not look up group: %s: %s", groupName, lerr.Error())
		}
		gid, lerr = strconv.Atoi(g.Gid)
		if lerr != nil {
			return -1, -1, fmt.Errorf(me+"Could not convert GID %s to an int: %s", g.Gid, lerr.Error())
		}
	}

	return uid, gid, nil
}

// enterChroot confines the process to dir. Must be root to do this, but let Chroot() do the
// checking.
func enterChroot(dir string) error {
	if err := os.Chdir(dir); err != nil {
		return fmt.Errorf(me+"Could not cd to %s: %s", dir, err.Error())
	}
	if err := unix.Chroot(dir); err != nil {
		return fmt.Errorf(me+"Could not chroot to %s: %s", dir, err.Error())
	}
	if err := os.Chdir("/"); err != nil {
		return fmt.Errorf(me+"Could not cd to /: %s", err.Error())
	}

	return nil
}

// dropGroup switches to gid, dropping all supplementary groups first.
func dropGroup(gid int, groupName string) error {
	if !setgidAllowed {
		fmt.Println("WARNING: Go setgid() disabled for Linux. This process remains privileged.")
		return nil
	}
	if err := unix.Setgroups([]int{}); err != nil {
		return fmt.Errorf(me+"Could not clear group list: %s", err.Error())
	}
	if err := unix.Setgid(gid); err != nil {
		return fmt.Errorf(me+"Could not setgid to %d/%s: %s", gid, groupName, err.Error())
	}

	return nil
}

// dropUser switches to uid, which should make the whole constraint sequence irreversible.
func dropUser(uid int, userName string) error {
	if !setuidAllowed {
		fmt.Println("WARNING: Go setuid() disabled for Linux. This process remains privileged.")
		return nil
	}
	if err := unix.Setuid(uid); err != nil {
		return fmt.Errorf(me+"Could not setuid to %d/%s: %s", uid, userName, err.Error())
	}

	return nil
}

// Constrain downgrades the process by switching to a nominated uid/gid which presumably has less
// power and chrooting to a directory that presumably has very little in or below it. Each step is
// skipped when the corresponding parameter is an empty string.
//
// The order of operations matters: names resolve to ids first while /etc/passwd is reachable,
// then chroot runs while we still have the power to do so, then supplementary groups are dropped
// and setgid issued while the uid is still powerful, and finally setuid makes the whole sequence
// irreversible.
//
// Arguably setsid and closing unneeded file descriptors belong here too, but this is a reasonable
// start for this application. It is also the case that apparently everyone re-writes this
// function and most get it wrong, so I may have too...
func Constrain(userName, groupName, chrootDir string) error {
	uid, gid, err := lookupIDs(userName, groupName)
	if err != nil {
		return err
	}

	if len(chrootDir) > 0 {
		if err := enterChroot(chrootDir); err != nil {
			return err
		}
	}

	if gid != -1 {
		if err := dropGroup(gid, groupName); err != nil {
			return err
		}
	}

	if uid != -1 {
		if err := dropUser(uid, userName); err != nil {
			return err
		}
	}

	return nil
}

// ConstraintReport returns a printable uid/gid/cwd summary of the process, normally emitted after
// Constrain() to "prove" the downgrade took.
func ConstraintReport() string {
	cwd, _ := os.Getwd()
	gList, _ := os.Getgroups()
	gStr := make([]string, 0, len(gList))
	for _, g := range gList {
		gStr = append(gStr, fmt.Sprintf("%d", g))
	}

	return fmt.Sprintf("uid=%d gid=%d (%s) cwd=%s", os.Getuid(), os.Getgid(), strings.Join(gStr, ","), cwd)
}
