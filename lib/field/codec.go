package field

/* codec.go serializes payloads for the coarsening traffic between blocks.
The fixed-size header travels as raw bytes; the cell values are packed
little-endian and zstd-compressed, since restriction payloads are the bulk
of adapt-phase traffic. */

import (
	"encoding/binary"
	"math"
	"unsafe"

	"github.com/DataDog/zstd"
	"github.com/outofforest/photon"
	"github.com/pkg/errors"
)

const codecMagic uint32 = 0x616d7266 // "amrf"

type codecHeader struct {
	Magic      uint32
	NX, NY, NZ int32
	RawBytes   int64
}

var headerSize = int(unsafe.Sizeof(codecHeader{}))

// Encode serializes a payload to a compressed byte buffer.
func Encode(d *Data) ([]byte, error) {
	raw := make([]byte, 8*len(d.V))
	for i, v := range d.V {
		binary.LittleEndian.PutUint64(raw[8*i:], math.Float64bits(v))
	}

	body, err := zstd.Compress(nil, raw)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	hdr := photon.NewFromValue(&codecHeader{
		Magic:    codecMagic,
		NX:       int32(d.NX),
		NY:       int32(d.NY),
		NZ:       int32(d.NZ),
		RawBytes: int64(len(raw)),
	})

	out := make([]byte, 0, headerSize+len(body))
	out = append(out, hdr.B...)
	out = append(out, body...)
	return out, nil
}

// Decode deserializes a payload produced by Encode.
func Decode(b []byte) (*Data, error) {
	if len(b) < headerSize {
		return nil, errors.Errorf(
			"payload buffer holds %d bytes, shorter than the %d-byte header",
			len(b), headerSize,
		)
	}

	hdr := photon.NewFromBytes[codecHeader](b[:headerSize])
	if hdr.V.Magic != codecMagic {
		return nil, errors.Errorf("bad payload magic %#x", hdr.V.Magic)
	}

	raw, err := zstd.Decompress(nil, b[headerSize:])
	if err != nil {
		return nil, errors.WithStack(err)
	}
	if int64(len(raw)) != hdr.V.RawBytes {
		return nil, errors.Errorf(
			"payload decompressed to %d bytes, expected %d",
			len(raw), hdr.V.RawBytes,
		)
	}

	d := New(int(hdr.V.NX), int(hdr.V.NY), int(hdr.V.NZ))
	if len(raw) != 8*len(d.V) {
		return nil, errors.Errorf(
			"payload holds %d bytes for a %dx%dx%d grid",
			len(raw), hdr.V.NX, hdr.V.NY, hdr.V.NZ,
		)
	}
	for i := range d.V {
		d.V[i] = math.Float64frombits(binary.LittleEndian.Uint64(raw[8*i:]))
	}
	return d, nil
}
