package reactor

import (
	"fmt"
	"net"
	"syscall"
)

// connFd extracts the raw file descriptor backing nc so it can be
// registered directly with epoll, bypassing net.Conn's own internal
// poller (which a reactor-driven server deliberately doesn't use).
func connFd(nc net.Conn) (int, error) {
	sc, ok := nc.(syscall.Conn)
	if !ok {
		return 0, fmt.Errorf("reactor: connection type %T does not expose a raw fd", nc)
	}
	raw, err := sc.SyscallConn()
	if err != nil {
		return 0, fmt.Errorf("reactor: SyscallConn: %w", err)
	}
	var fd int
	var ctrlErr error
	err = raw.Control(func(d uintptr) {
		dupFd, dupErr := syscall.Dup(int(d))
		if dupErr != nil {
			ctrlErr = dupErr
			return
		}
		fd = dupFd
	})
	if err != nil {
		return 0, fmt.Errorf("reactor: Control: %w", err)
	}
	if ctrlErr != nil {
		return 0, fmt.Errorf("reactor: dup: %w", ctrlErr)
	}
	return fd, nil
}
