package badger

import (
	"fmt"

	"github.com/mus-format/mus-go/raw"
	"github.com/mus-format/mus-go/varint"
	"github.com/poiesic/folio/storage"
)

// marshalVector encodes a vector as a varint length followed by raw float32s.
func marshalVector(v []float32) []byte {
	size := varint.PositiveInt.Size(len(v))
	for _, f := range v {
		size += raw.Float32.Size(f)
	}
	buf := make([]byte, size)
	n := varint.PositiveInt.Marshal(len(v), buf)
	for _, f := range v {
		n += raw.Float32.Marshal(f, buf[n:])
	}
	return buf
}

// unmarshalVector decodes a vector written by marshalVector.
func unmarshalVector(data []byte) ([]float32, error) {
	length, n, err := varint.PositiveInt.Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("%w: vector length: %w", storage.ErrSerializationFailed, err)
	}
	if length < 0 || length > len(data) {
		return nil, fmt.Errorf("%w: vector length %d", storage.ErrSerializationFailed, length)
	}
	v := make([]float32, length)
	for i := range v {
		f, m, err := raw.Float32.Unmarshal(data[n:])
		if err != nil {
			return nil, fmt.Errorf("%w: element %d: %w", storage.ErrSerializationFailed, i, err)
		}
		v[i] = f
		n += m
	}
	return v, nil
}
