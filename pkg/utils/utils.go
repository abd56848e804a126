package utils

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"unsafe"
)

func Fatal(msg string) {
	fmt.Fprintf(os.Stderr, "rvld: fatal: %s\n", msg)
	os.Exit(1)
}

func Assert(cond bool) {
	if !cond {
		panic("assertion failed")
	}
}

func MustNo(err error) {
	if err != nil {
		Fatal(err.Error())
	}
}

func Read[T any](data []byte) T {
	return *(*T)(unsafe.Pointer(&data[0]))
}

func Write[T any](data []byte, val T) {
	ptr := (*T)(unsafe.Pointer(&data[0]))
	*ptr = val
}

func ReadSlice[T any](data []byte, entsize int) []T {
	ret := []T{}
	for len(data) >= entsize {
		ret = append(ret, Read[T](data))
		data = data[entsize:]
	}
	return ret
}

func RemovePrefix(s string, prefix string) (string, bool) {
	if strings.HasPrefix(s, prefix) {
		return s[len(prefix):], true
	}
	return s, false
}

func RemoveIf[T any](s []T, cond func(t T) bool) []T {
	ret := make([]T, 0, len(s))
	for _, t := range s {
		if !cond(t) {
			ret = append(ret, t)
		}
	}
	return ret
}

func AlignTo(val uint64, align uint64) uint64 {
	if align == 0 {
		return val
	}
	return (val + align - 1) &^ (align - 1)
}

func Bit(val uint32, pos int) uint32 {
	return (val >> pos) & 1
}

func Bits(val uint32, hi int, lo int) uint32 {
	return (val >> lo) & ((1 << (hi - lo + 1)) - 1)
}

func SignExtend(val uint64, size int) uint64 {
	return uint64(int64(val<<(63-size)) >> (63 - size))
}

func AllZeros(bs []byte) bool {
	return bytes.Count(bs, []byte{0}) == len(bs)
}
