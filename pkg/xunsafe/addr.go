//go:build go1.20

package xunsafe

import (
	"fmt"
	"unsafe"

	"github.com/tsukuba-hpcs/mpich-chfs/pkg/xunsafe/layout"
)

// Addr is an untyped representation of a *T, stored as a bare integer.
//
// Unlike a *T, loading or storing through an Addr issues no write barriers,
// and holding one does not keep the pointee alive. It exists so that
// intrusive, in-band data structures can thread addresses through memory
// they do not otherwise hold live Go pointers into.
type Addr[T any] uintptr

// AddrOf returns the address of p as an Addr.
func AddrOf[T any](p *T) Addr[T] {
	return Addr[T](uintptr(unsafe.Pointer(p)))
}

// EndOf returns the address one past the end of the given slice.
func EndOf[T any](s []T) Addr[T] {
	if len(s) == 0 {
		return Addr[T](uintptr(unsafe.Pointer(unsafe.SliceData(s))))
	}

	return AddrOf(&s[len(s)-1]).Add(1)
}

// AssertValid converts this address back into a pointer.
//
// The caller must ensure that the memory this address refers to is both
// live and reachable by some other means; this function performs no checks
// of its own.
func (a Addr[T]) AssertValid() *T {
	return (*T)(unsafe.Pointer(uintptr(a)))
}

// Add adds n elements' worth of offset to a, scaled by the size of T.
func (a Addr[T]) Add(n int) Addr[T] {
	return a + Addr[T](n*layout.Size[T]())
}

// ByteAdd adds n bytes of offset to a, without scaling.
func (a Addr[T]) ByteAdd(n int) Addr[T] {
	return a + Addr[T](n)
}

// Sub computes the difference between a and b, scaled by the size of T.
func (a Addr[T]) Sub(b Addr[T]) int {
	return int(a-b) / layout.Size[T]()
}

// Padding returns the number of bytes that must be added to a to reach the
// next multiple of align.
func (a Addr[T]) Padding(align int) int {
	return layout.Padding(int(a), align)
}

// RoundUpTo rounds a up to the next multiple of align.
func (a Addr[T]) RoundUpTo(align int) Addr[T] {
	return Addr[T](layout.RoundUp(int(a), align))
}

// SignBit returns whether the top bit of a is set.
func (a Addr[T]) SignBit() bool {
	return a>>(unsafe.Sizeof(uintptr(0))*8-1) != 0
}

// SignBitMask returns all-ones if the sign bit of a is set, all-zeros
// otherwise.
func (a Addr[T]) SignBitMask() Addr[T] {
	return Addr[T](int(a) >> (unsafe.Sizeof(uintptr(0))*8 - 1))
}

// ClearSignBit returns a with its top bit cleared.
func (a Addr[T]) ClearSignBit() Addr[T] {
	return a &^ (Addr[T](1) << (unsafe.Sizeof(uintptr(0))*8 - 1))
}

// String implements [fmt.Stringer].
func (a Addr[T]) String() string {
	return fmt.Sprintf("0x%x", uintptr(a))
}

// Format implements [fmt.Formatter], supporting %v and %x.
func (a Addr[T]) Format(s fmt.State, verb rune) {
	switch verb {
	case 'x':
		_, _ = fmt.Fprintf(s, "%x", uintptr(a))
	default:
		_, _ = fmt.Fprint(s, a.String())
	}
}
