// Package terminal puts stdin into single-key mode for the duration of
// playback and makes sure it is restored on every way out, including
// interrupt and suspend signals.
package terminal

import (
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"
	"golang.org/x/term"
)

// TTY is a non-blocking key source on a file descriptor.
type TTY struct {
	fd    int
	isTTY bool

	mu       sync.Mutex
	saved    *term.State
	keyMode  bool
	nonblock bool
}

// Open prepares f for single-key reads. When f is not a terminal the mode
// is left alone and reads are still non-blocking.
func Open(f *os.File) (*TTY, error) {
	t := &TTY{fd: int(f.Fd())}
	t.isTTY = term.IsTerminal(t.fd)
	if t.isTTY {
		st, err := term.GetState(t.fd)
		if err != nil {
			return nil, fmt.Errorf("save terminal state: %w", err)
		}
		t.saved = st
	}
	if err := t.enter(); err != nil {
		t.Restore()
		return nil, err
	}
	return t, nil
}

// IsTerminal reports whether the descriptor is a terminal.
func (t *TTY) IsTerminal() bool { return t.isTTY }

func (t *TTY) enter() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.isTTY && !t.keyMode {
		if err := singleKeyMode(t.fd); err != nil {
			return fmt.Errorf("set single-key mode: %w", err)
		}
		t.keyMode = true
	}
	if !t.nonblock {
		if err := unix.SetNonblock(t.fd, true); err != nil {
			return fmt.Errorf("set non-blocking stdin: %w", err)
		}
		t.nonblock = true
	}
	return nil
}

// Read returns pending bytes, or 0 and a nil error when none are waiting.
func (t *TTY) Read(p []byte) (int, error) {
	n, err := unix.Read(t.fd, p)
	if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK) || errors.Is(err, unix.EINTR) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read stdin: %w", err)
	}
	return max(n, 0), nil
}

// Restore puts the descriptor back the way Open found it. It is safe to
// call more than once and from a signal goroutine.
func (t *TTY) Restore() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	var errs []error
	if t.nonblock {
		if err := unix.SetNonblock(t.fd, false); err != nil {
			errs = append(errs, err)
		}
		t.nonblock = false
	}
	if t.keyMode && t.saved != nil {
		if err := term.Restore(t.fd, t.saved); err != nil {
			errs = append(errs, err)
		}
		t.keyMode = false
	}
	return errors.Join(errs...)
}

// HandleSignals restores the terminal on SIGINT and SIGTSTP and then
// re-raises the signal so its default action runs. After a suspended
// process is continued, single-key mode is re-entered. The returned
// function stops the handler.
func (t *TTY) HandleSignals() (stop func()) {
	ch := make(chan os.Signal, 4)
	done := make(chan struct{})
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTSTP, syscall.SIGCONT)

	go func() {
		for {
			select {
			case <-done:
				return
			case sig := <-ch:
				t.handle(ch, sig.(syscall.Signal))
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			signal.Stop(ch)
			close(done)
		})
	}
}

func (t *TTY) handle(ch chan os.Signal, sig syscall.Signal) {
	switch sig {
	case syscall.SIGCONT:
		if err := t.enter(); err != nil {
			log.Printf("Resume terminal: %v", err)
		}
		signal.Notify(ch, syscall.SIGTSTP)
	case syscall.SIGINT, syscall.SIGTSTP:
		if err := t.Restore(); err != nil {
			log.Printf("Restore terminal: %v", err)
		}
		signal.Reset(sig)
		if err := unix.Kill(unix.Getpid(), sig); err != nil {
			log.Printf("Re-raise %v: %v", sig, err)
		}
	}
}
