package tensor

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"

	"github.com/pkg/errors"
)

// wireTensor is the gob representation of a Tensor.
// Element data is packed little-endian.
type wireTensor struct {
	DType DType
	Dims  []int
	Data  []byte
}

// GobEncode implements gob.GobEncoder.
func (t *Tensor) GobEncode() ([]byte, error) {
	var data bytes.Buffer
	data.Grow(t.ByteSize())
	if err := binary.Write(&data, binary.LittleEndian, t.flat); err != nil {
		return nil, errors.Wrapf(err, "encoding %s", t.Shape())
	}
	var out bytes.Buffer
	err := gob.NewEncoder(&out).Encode(&wireTensor{
		DType: t.dtype,
		Dims:  t.dims,
		Data:  data.Bytes(),
	})
	if err != nil {
		return nil, errors.Wrapf(err, "encoding %s", t.Shape())
	}
	return out.Bytes(), nil
}

// GobDecode implements gob.GobDecoder.
func (t *Tensor) GobDecode(b []byte) error {
	var w wireTensor
	if err := gob.NewDecoder(bytes.NewReader(b)).Decode(&w); err != nil {
		return errors.Wrap(err, "decoding tensor")
	}
	if !w.DType.Valid() {
		return errors.Errorf("decoding tensor: invalid dtype %d", int(w.DType))
	}
	size := 1
	for _, d := range w.Dims {
		if d < 0 {
			return errors.Errorf("decoding tensor: negative dimension in %v", w.Dims)
		}
		size *= d
	}
	if len(w.Data) != size*w.DType.Size() {
		return errors.Errorf("decoding tensor: %s%v needs %d bytes, got %d",
			w.DType, w.Dims, size*w.DType.Size(), len(w.Data))
	}
	flat := makeFlat(w.DType, size)
	if err := binary.Read(bytes.NewReader(w.Data), binary.LittleEndian, flat); err != nil {
		return errors.Wrap(err, "decoding tensor data")
	}
	t.dtype = w.DType
	t.dims = w.Dims
	if t.dims == nil {
		t.dims = []int{}
	}
	t.flat = flat
	return nil
}
