package crypto

import (
	"crypto/subtle"
	"runtime"
)

// Wipe zeroes the provided buffer. This is best-effort and aims to
// reduce the chance of the compiler eliding the write.
//
//go:noinline
func Wipe(b []byte) {
	if len(b) == 0 {
		return
	}
	subtle.ConstantTimeCopy(1, b, make([]byte, len(b)))
	runtime.KeepAlive(&b)
}

// WipeKey zeroes a fixed-size key in place.
func WipeKey(k *[32]byte) {
	if k == nil {
		return
	}
	Wipe(k[:])
}
