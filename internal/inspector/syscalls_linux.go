//go:build linux
// +build linux

package inspector

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

const ptracePeekData = unix.PTRACE_PEEKDATA

// peekDataRaw reads one native word from the tracee's address space via
// PTRACE_PEEKDATA.
func peekDataRaw(pid int, addr uintptr) (uintptr, error) {
	var word uintptr
	_, _, errno := unix.Syscall6(unix.SYS_PTRACE, uintptr(ptracePeekData), uintptr(pid), addr, uintptr(unsafe.Pointer(&word)), 0, 0)
	if errno != 0 {
		return 0, errno
	}
	return word, nil
}

// processVMReadv performs a single-range bulk read of the tracee's memory
// via process_vm_readv(2), the optional fast path named in spec §9. It
// requires the tracer to share the same uid/capabilities as the tracee (or
// CAP_SYS_PTRACE), which holds for any pid we are already ptracing.
func processVMReadv(pid int, addr uintptr, local []byte) (int, error) {
	localIov := []unix.Iovec{{Base: &local[0]}}
	localIov[0].SetLen(len(local))
	remoteIov := []unix.RemoteIovec{{Base: addr, Len: len(local)}}
	return unix.ProcessVMReadv(pid, localIov, remoteIov, 0)
}
