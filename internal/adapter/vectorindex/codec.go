package vectorindex

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

var (
	ErrIndexBuilt    = errors.New("index already built")
	ErrNotBuilt      = errors.New("index not built")
	ErrNonContiguous = errors.New("non-contiguous position")
	ErrDimension     = errors.New("vector dimension mismatch")
	ErrCorrupt       = errors.New("corrupt index file")
)

var indexMagic = [4]byte{'D', 'R', 'V', 'I'}

const formatVersion uint16 = 1

type header struct {
	backend   string
	dimension int
	count     int
}

// writeHeader prefixes every saved index so a file written by one backend
// or dimension is never loaded as another.
func writeHeader(w io.Writer, backend string, dimension, count int) error {
	if _, err := w.Write(indexMagic[:]); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	fields := []any{
		formatVersion,
		uint8(len(backend)),
		[]byte(backend),
		uint32(dimension),
		uint64(count),
	}
	for _, f := range fields {
		if err := binary.Write(w, binary.LittleEndian, f); err != nil {
			return fmt.Errorf("failed to write header: %w", err)
		}
	}
	return nil
}

func readHeader(r io.Reader, backend string, dimension int) (header, error) {
	var magic [4]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		return header{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if magic != indexMagic {
		return header{}, fmt.Errorf("%w: bad magic", ErrCorrupt)
	}

	var version uint16
	if err := binary.Read(r, binary.LittleEndian, &version); err != nil {
		return header{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if version != formatVersion {
		return header{}, fmt.Errorf("%w: unsupported format version %d", ErrCorrupt, version)
	}

	var nameLen uint8
	if err := binary.Read(r, binary.LittleEndian, &nameLen); err != nil {
		return header{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	name := make([]byte, nameLen)
	if _, err := io.ReadFull(r, name); err != nil {
		return header{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}

	var dim uint32
	var count uint64
	if err := binary.Read(r, binary.LittleEndian, &dim); err != nil {
		return header{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return header{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}

	h := header{backend: string(name), dimension: int(dim), count: int(count)}
	if h.backend != backend {
		return header{}, fmt.Errorf("%w: backend %q, want %q", ErrCorrupt, h.backend, backend)
	}
	if h.dimension != dimension {
		return header{}, fmt.Errorf("%w: expected %d, got %d", ErrDimension, dimension, h.dimension)
	}
	return h, nil
}
