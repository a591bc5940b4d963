// Package codec formats workload record keys and values.
package codec

import (
	"bytes"
	"strconv"
)

const (
	// MinKeySize is the smallest key width the bench driver accepts. Keys of
	// at least this width keep the decimal prefix well inside the key.
	MinKeySize = 32

	// ShortBuffer is the scratch width used for decimal keys.
	ShortBuffer = 64

	// LongBuffer is the size of the filler used for oversized values.
	LongBuffer = 1024
)

// Split divides a key+value byte budget evenly between key and value.
func Split(budget int) (keySize, valueSize int) {
	return budget / 2, budget / 2
}

// FixedKey writes the decimal form of n at the start of dst and zero-fills
// the remainder, so every key has exactly len(dst) bytes and differs from
// its neighbours within the first few bytes.
func FixedKey(dst []byte, n int) []byte {
	digits := strconv.AppendInt(dst[:0], int64(n), 10)
	if len(digits) > len(dst) {
		// AppendInt reallocated; keep the low-order digits that fit.
		copy(dst, digits[len(digits)-len(dst):])
		return dst
	}
	clear(dst[len(digits):])
	return dst
}

// Padded returns n in decimal, zero padded to width digits.
func Padded(n int64, width int) []byte {
	return AppendPadded(make([]byte, 0, width), n, width)
}

// AppendPadded appends n in decimal, zero padded to width digits, to dst.
func AppendPadded(dst []byte, n int64, width int) []byte {
	var scratch [20]byte
	digits := strconv.AppendInt(scratch[:0], n, 10)
	for i := len(digits); i < width; i++ {
		dst = append(dst, '0')
	}
	return append(dst, digits...)
}

// Decimal returns n in decimal without padding.
func Decimal(n int64) []byte {
	return strconv.AppendInt(make([]byte, 0, 20), n, 10)
}

// Filler returns a buffer of n copies of b.
func Filler(n int, b byte) []byte {
	return bytes.Repeat([]byte{b}, n)
}

// HasKeyPrefix reports whether value begins with key. Values written by the
// workloads always start with their own key, appends only extend them.
func HasKeyPrefix(value, key []byte) bool {
	return bytes.HasPrefix(value, key)
}
