//go:build !linux

/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: shm_other.go
Description: Fallback for platforms without the SysV shared memory calls we rely on.
*/

package shm

func allocate(size int) (int, []byte, error) {
	return 0, nil, ErrUnsupported
}

func release(id int, mem []byte) error {
	return nil
}
