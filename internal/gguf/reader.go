package gguf

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
)

const (
	// Arrays longer than this are skipped and reported as an ArraySummary.
	maxInlineArray = 64
	// Upper bound for a single metadata string; chat templates are the largest.
	maxStringLen = 1 << 20
)

// Metadata is the header and key/value section of a GGUF file. Tensor
// descriptors and tensor data are not read.
type Metadata struct {
	Header GGUFHeader             `json:"header"`
	KV     map[string]interface{} `json:"kv"`
}

// ReadMetadata opens path and decodes its GGUF metadata.
func ReadMetadata(path string) (*Metadata, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = f.Close()
	}()

	md, err := Decode(bufio.NewReaderSize(f, 64<<10))
	if err != nil {
		return nil, fmt.Errorf("read gguf %s: %w", path, err)
	}
	return md, nil
}

// Decode reads a GGUF header and metadata section from r. Versions 2 and 3
// are supported.
func Decode(r io.Reader) (*Metadata, error) {
	d := &decoder{r: r}
	md := &Metadata{KV: make(map[string]interface{})}

	md.Header.Magic = d.u32()
	if d.err != nil {
		return nil, d.err
	}
	if md.Header.Magic != GGUFMagic {
		return nil, ErrInvalidMagic{Magic: md.Header.Magic}
	}

	md.Header.Version = d.u32()
	if d.err == nil && (md.Header.Version < 2 || md.Header.Version > 3) {
		return nil, ErrUnsupportedVersion{Version: md.Header.Version}
	}
	md.Header.TensorCount = d.u64()
	md.Header.KVCount = d.u64()
	if d.err != nil {
		return nil, d.err
	}

	for i := uint64(0); i < md.Header.KVCount; i++ {
		key := d.str()
		typ := GGUFMetadataValueType(d.u32())
		val := d.value(typ)
		if d.err != nil {
			return nil, fmt.Errorf("metadata entry %d (%q): %w", i, key, d.err)
		}
		md.KV[key] = val
	}

	return md, nil
}

// decoder keeps the first error and turns every later read into a no-op.
type decoder struct {
	r   io.Reader
	buf [8]byte
	err error
}

func (d *decoder) read(n int) []byte {
	if d.err != nil {
		return d.buf[:n]
	}
	if _, err := io.ReadFull(d.r, d.buf[:n]); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		d.err = err
	}
	return d.buf[:n]
}

func (d *decoder) u8() uint8   { return d.read(1)[0] }
func (d *decoder) u16() uint16 { return binary.LittleEndian.Uint16(d.read(2)) }
func (d *decoder) u32() uint32 { return binary.LittleEndian.Uint32(d.read(4)) }
func (d *decoder) u64() uint64 { return binary.LittleEndian.Uint64(d.read(8)) }

func (d *decoder) str() string {
	n := d.u64()
	if d.err != nil {
		return ""
	}
	if n > maxStringLen {
		d.err = fmt.Errorf("string length %d exceeds limit", n)
		return ""
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(d.r, b); err != nil {
		d.err = io.ErrUnexpectedEOF
		return ""
	}
	return string(b)
}

func (d *decoder) skip(n int64) {
	if d.err != nil {
		return
	}
	if _, err := io.CopyN(io.Discard, d.r, n); err != nil {
		d.err = io.ErrUnexpectedEOF
	}
}

func (d *decoder) value(typ GGUFMetadataValueType) interface{} {
	switch typ {
	case GGUFMetadataValueTypeUint8:
		return d.u8()
	case GGUFMetadataValueTypeInt8:
		return int8(d.u8())
	case GGUFMetadataValueTypeUint16:
		return d.u16()
	case GGUFMetadataValueTypeInt16:
		return int16(d.u16())
	case GGUFMetadataValueTypeUint32:
		return d.u32()
	case GGUFMetadataValueTypeInt32:
		return int32(d.u32())
	case GGUFMetadataValueTypeFloat32:
		return math.Float32frombits(d.u32())
	case GGUFMetadataValueTypeBool:
		return d.u8() != 0
	case GGUFMetadataValueTypeString:
		return d.str()
	case GGUFMetadataValueTypeUint64:
		return d.u64()
	case GGUFMetadataValueTypeInt64:
		return int64(d.u64())
	case GGUFMetadataValueTypeFloat64:
		return math.Float64frombits(d.u64())
	case GGUFMetadataValueTypeArray:
		return d.array()
	default:
		if d.err == nil {
			d.err = fmt.Errorf("unsupported metadata type: %d", typ)
		}
		return nil
	}
}

func (d *decoder) array() interface{} {
	elemType := GGUFMetadataValueType(d.u32())
	n := d.u64()
	if d.err != nil {
		return nil
	}

	if n > maxInlineArray {
		switch {
		case elemType.fixedSize() > 0:
			if n > math.MaxInt64/uint64(elemType.fixedSize()) {
				d.err = fmt.Errorf("array length %d overflows", n)
				return nil
			}
			d.skip(int64(n) * elemType.fixedSize())
		default:
			for i := uint64(0); i < n && d.err == nil; i++ {
				_ = d.value(elemType)
			}
		}
		return ArraySummary{Type: elemType, Len: n}
	}

	arr := make([]interface{}, 0, n)
	for i := uint64(0); i < n && d.err == nil; i++ {
		arr = append(arr, d.value(elemType))
	}
	return arr
}
