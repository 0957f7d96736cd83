//go:build linux || darwin || freebsd || netbsd || openbsd || dragonfly

package terminal

import "golang.org/x/sys/unix"

// singleKeyMode disables line buffering and echo but, unlike term.MakeRaw,
// keeps signal keys and output post-processing so Ctrl-C, Ctrl-Z and the
// carriage-return status line keep working.
func singleKeyMode(fd int) error {
	tio, err := unix.IoctlGetTermios(fd, ioctlReadTermios)
	if err != nil {
		return err
	}
	tio.Lflag &^= unix.ICANON | unix.ECHO | unix.IEXTEN
	tio.Cc[unix.VMIN] = 1
	tio.Cc[unix.VTIME] = 0
	return unix.IoctlSetTermios(fd, ioctlWriteTermios, tio)
}
