package elf

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// ReadStringAtOffset returns the NUL-terminated string starting at offset in
// data, or an error if the offset is out of bounds or the string isn't
// terminated within data. Used to pull symbol/library/version names out of
// string table content.
func ReadStringAtOffset(offset uint32, data []byte) ([]byte, error) {
	if offset >= uint32(len(data)) {
		return nil, fmt.Errorf("invalid string offset: %d", offset)
	}
	end := offset
	for data[end] != 0 {
		end++
		if end >= uint32(len(data)) {
			return nil, fmt.Errorf("unterminated string starting at offset %d", offset)
		}
	}
	return data[offset:end], nil
}

// WriteAtOffset writes toWrite, encoded with the given byte order, into
// destination starting at offset, growing destination if needed. The
// patcher uses it for every field it overwrites, in both strategies; the
// append-to-strtab strategy adds the new string itself to the end of the
// buffer with a plain append.
func WriteAtOffset(destination []byte, offset uint64, order binary.ByteOrder, toWrite interface{}) ([]byte, error) {
	var b bytes.Buffer
	if err := binary.Write(&b, order, toWrite); err != nil {
		return destination, err
	}
	needed := offset + uint64(b.Len())
	if needed > uint64(len(destination)) {
		destination = append(destination, make([]byte, needed-uint64(len(destination)))...)
	}
	copy(destination[offset:], b.Bytes())
	return destination, nil
}
