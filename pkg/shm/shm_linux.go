//go:build linux

/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: shm_linux.go
Description: SysV shared memory primitives for Linux.
*/

package shm

import (
	"fmt"

	"go.uber.org/multierr"
	"golang.org/x/sys/unix"
)

func allocate(size int) (int, []byte, error) {
	id, err := unix.SysvShmGet(unix.IPC_PRIVATE, size, unix.IPC_CREAT|0o600)
	if err != nil {
		return 0, nil, fmt.Errorf("shmget: %w", err)
	}

	mem, err := unix.SysvShmAttach(id, 0, 0)
	if err != nil {
		if _, rmErr := unix.SysvShmCtl(id, unix.IPC_RMID, nil); rmErr != nil {
			err = multierr.Append(err, rmErr)
		}
		return 0, nil, fmt.Errorf("shmat: %w", err)
	}
	if len(mem) < size {
		_ = unix.SysvShmDetach(mem)
		_, _ = unix.SysvShmCtl(id, unix.IPC_RMID, nil)
		return 0, nil, fmt.Errorf("segment %d is %d bytes, want %d", id, len(mem), size)
	}
	return id, mem[:size], nil
}

func release(id int, mem []byte) error {
	var err error
	if dErr := unix.SysvShmDetach(mem); dErr != nil {
		err = multierr.Append(err, fmt.Errorf("shmdt: %w", dErr))
	}
	if _, cErr := unix.SysvShmCtl(id, unix.IPC_RMID, nil); cErr != nil {
		err = multierr.Append(err, fmt.Errorf("shmctl IPC_RMID: %w", cErr))
	}
	return err
}
