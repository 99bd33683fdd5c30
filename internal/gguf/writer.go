package gguf

import (
	"bytes"
	"encoding/binary"
	"io"
)

// Builder assembles a header-only GGUF file: the header and metadata section
// with no tensor descriptors. It is enough for ReadMetadata and for fixtures
// that only need a model's metadata.
type Builder struct {
	kv      bytes.Buffer
	kvCount uint64
}

func (b *Builder) str(s string) {
	_ = binary.Write(&b.kv, binary.LittleEndian, uint64(len(s)))
	b.kv.WriteString(s)
}

func (b *Builder) key(k string, typ GGUFMetadataValueType) {
	b.kvCount++
	b.str(k)
	_ = binary.Write(&b.kv, binary.LittleEndian, uint32(typ))
}

func (b *Builder) Str(k, v string) *Builder {
	b.key(k, GGUFMetadataValueTypeString)
	b.str(v)
	return b
}

func (b *Builder) Uint32(k string, v uint32) *Builder {
	b.key(k, GGUFMetadataValueTypeUint32)
	_ = binary.Write(&b.kv, binary.LittleEndian, v)
	return b
}

func (b *Builder) Uint64(k string, v uint64) *Builder {
	b.key(k, GGUFMetadataValueTypeUint64)
	_ = binary.Write(&b.kv, binary.LittleEndian, v)
	return b
}

func (b *Builder) Float32(k string, v float32) *Builder {
	b.key(k, GGUFMetadataValueTypeFloat32)
	_ = binary.Write(&b.kv, binary.LittleEndian, v)
	return b
}

func (b *Builder) Bool(k string, v bool) *Builder {
	b.key(k, GGUFMetadataValueTypeBool)
	var x uint8
	if v {
		x = 1
	}
	b.kv.WriteByte(x)
	return b
}

func (b *Builder) StringArray(k string, vals []string) *Builder {
	b.key(k, GGUFMetadataValueTypeArray)
	_ = binary.Write(&b.kv, binary.LittleEndian, uint32(GGUFMetadataValueTypeString))
	_ = binary.Write(&b.kv, binary.LittleEndian, uint64(len(vals)))
	for _, v := range vals {
		b.str(v)
	}
	return b
}

func (b *Builder) Int32Array(k string, vals []int32) *Builder {
	b.key(k, GGUFMetadataValueTypeArray)
	_ = binary.Write(&b.kv, binary.LittleEndian, uint32(GGUFMetadataValueTypeInt32))
	_ = binary.Write(&b.kv, binary.LittleEndian, uint64(len(vals)))
	for _, v := range vals {
		_ = binary.Write(&b.kv, binary.LittleEndian, v)
	}
	return b
}

// Bytes returns the encoded file. tensors is only recorded in the header.
func (b *Builder) Bytes(version uint32, tensors uint64) []byte {
	var out bytes.Buffer
	_ = b.Encode(&out, version, tensors)
	return out.Bytes()
}

// Encode writes the encoded file to w.
func (b *Builder) Encode(w io.Writer, version uint32, tensors uint64) error {
	var hdr bytes.Buffer
	_ = binary.Write(&hdr, binary.LittleEndian, uint32(GGUFMagic))
	_ = binary.Write(&hdr, binary.LittleEndian, version)
	_ = binary.Write(&hdr, binary.LittleEndian, tensors)
	_ = binary.Write(&hdr, binary.LittleEndian, b.kvCount)

	if _, err := w.Write(hdr.Bytes()); err != nil {
		return err
	}
	_, err := w.Write(b.kv.Bytes())
	return err
}
