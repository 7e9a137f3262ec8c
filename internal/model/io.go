package model

import (
	"encoding/binary"
	"io"
)

// readLittleEndian reads one fixed-size value in little-endian order.
func readLittleEndian[T any](r io.Reader) (T, error) {
	var result T
	err := binary.Read(r, binary.LittleEndian, &result)
	return result, err
}

// readLittleEndianSlice fills out from r in little-endian order.
func readLittleEndianSlice[T any](r io.Reader, out []T) error {
	return binary.Read(r, binary.LittleEndian, out)
}

// writeLittleEndian writes a fixed-size value or slice in little-endian order.
func writeLittleEndian[T any](w io.Writer, value T) error {
	return binary.Write(w, binary.LittleEndian, value)
}

// shortRead turns the EOF variants of a truncated stream into io.ErrUnexpectedEOF.
func shortRead(err error) error {
	if err == io.EOF {
		return io.ErrUnexpectedEOF
	}
	return err
}
