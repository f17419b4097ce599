package compression

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/snappy"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
)

// CompressionType identifies a payload codec. It travels in the low bits of
// a message's flag field.
type CompressionType int8

const (
	None CompressionType = iota
	Gzip
	Zlib
	Snappy
	Zstd
)

// FlagMask selects the compression bits of a message flag
const FlagMask int32 = 0x7

func (c CompressionType) String() string {
	switch c {
	case None:
		return "none"
	case Gzip:
		return "gzip"
	case Zlib:
		return "zlib"
	case Snappy:
		return "snappy"
	case Zstd:
		return "zstd"
	default:
		return "unknown"
	}
}

// ParseType maps a codec name to its type
func ParseType(name string) (CompressionType, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "none":
		return None, nil
	case "gzip":
		return Gzip, nil
	case "zlib":
		return Zlib, nil
	case "snappy":
		return Snappy, nil
	case "zstd":
		return Zstd, nil
	default:
		return None, fmt.Errorf("unsupported compression type: %q", name)
	}
}

// UnmarshalText lets the type be configured by name
func (c *CompressionType) UnmarshalText(text []byte) error {
	t, err := ParseType(string(text))
	if err != nil {
		return err
	}
	*c = t
	return nil
}

func (c CompressionType) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// TypeFromFlag extracts the compression type from a message flag
func TypeFromFlag(flag int32) CompressionType {
	return CompressionType(flag & FlagMask)
}

// Compressor compresses and decompresses whole payloads
type Compressor interface {
	Compress(data []byte) ([]byte, error)
	Decompress(data []byte) ([]byte, error)
	Type() CompressionType
}

type noCompression struct{}

func (noCompression) Compress(data []byte) ([]byte, error)   { return data, nil }
func (noCompression) Decompress(data []byte) ([]byte, error) { return data, nil }
func (noCompression) Type() CompressionType                  { return None }

type gzipCompression struct{}

func (gzipCompression) Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, fmt.Errorf("gzip compress failed: %v", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("gzip writer close failed: %v", err)
	}
	return buf.Bytes(), nil
}

func (gzipCompression) Decompress(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("gzip reader create failed: %v", err)
	}
	defer r.Close()

	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("gzip decompress failed: %v", err)
	}
	return out, nil
}

func (gzipCompression) Type() CompressionType { return Gzip }

type zlibCompression struct{}

func (zlibCompression) Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, fmt.Errorf("zlib compress failed: %v", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("zlib writer close failed: %v", err)
	}
	return buf.Bytes(), nil
}

func (zlibCompression) Decompress(data []byte) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("zlib reader create failed: %v", err)
	}
	defer r.Close()

	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("zlib decompress failed: %v", err)
	}
	return out, nil
}

func (zlibCompression) Type() CompressionType { return Zlib }

type snappyCompression struct{}

func (snappyCompression) Compress(data []byte) ([]byte, error) {
	return snappy.Encode(nil, data), nil
}

func (snappyCompression) Decompress(data []byte) ([]byte, error) {
	out, err := snappy.Decode(nil, data)
	if err != nil {
		return nil, fmt.Errorf("snappy decompress failed: %v", err)
	}
	return out, nil
}

func (snappyCompression) Type() CompressionType { return Snappy }

type zstdCompression struct {
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

func newZstdCompression() (*zstdCompression, error) {
	encoder, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder failed: %v", err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		encoder.Close()
		return nil, fmt.Errorf("create zstd decoder failed: %v", err)
	}
	return &zstdCompression{encoder: encoder, decoder: decoder}, nil
}

func (z *zstdCompression) Compress(data []byte) ([]byte, error) {
	return z.encoder.EncodeAll(data, nil), nil
}

func (z *zstdCompression) Decompress(data []byte) ([]byte, error) {
	out, err := z.decoder.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("zstd decompress failed: %v", err)
	}
	return out, nil
}

func (z *zstdCompression) Type() CompressionType { return Zstd }

func (z *zstdCompression) Close() {
	z.encoder.Close()
	z.decoder.Close()
}

// GetCompressor returns a compressor for the given type
func GetCompressor(compressionType CompressionType) (Compressor, error) {
	switch compressionType {
	case None:
		return noCompression{}, nil
	case Gzip:
		return gzipCompression{}, nil
	case Zlib:
		return zlibCompression{}, nil
	case Snappy:
		return snappyCompression{}, nil
	case Zstd:
		return newZstdCompression()
	default:
		return nil, fmt.Errorf("unsupported compression type: %d", compressionType)
	}
}

// Codec compresses outgoing payloads at or above a size threshold and
// decompresses incoming ones according to their flag. Compressors are built
// once and reused; a Codec is not safe for concurrent use.
type Codec struct {
	outgoing   CompressionType
	threshold  int
	compressor map[CompressionType]Compressor
}

// NewCodec creates a codec that compresses with t once a payload reaches
// threshold bytes. None disables outgoing compression; decoding still
// understands every type.
func NewCodec(t CompressionType, threshold int) (*Codec, error) {
	if t < None || t > Zstd {
		return nil, fmt.Errorf("unsupported compression type: %d", t)
	}
	return &Codec{
		outgoing:   t,
		threshold:  threshold,
		compressor: make(map[CompressionType]Compressor),
	}, nil
}

func (c *Codec) get(t CompressionType) (Compressor, error) {
	if comp, ok := c.compressor[t]; ok {
		return comp, nil
	}
	comp, err := GetCompressor(t)
	if err != nil {
		return nil, err
	}
	c.compressor[t] = comp
	return comp, nil
}

// Encode returns the payload to send and the flag bits describing it. The
// original payload is kept when compression would not shrink it.
func (c *Codec) Encode(payload []byte) ([]byte, int32, error) {
	if c == nil || c.outgoing == None || len(payload) < c.threshold {
		return payload, 0, nil
	}
	comp, err := c.get(c.outgoing)
	if err != nil {
		return nil, 0, err
	}
	out, err := comp.Compress(payload)
	if err != nil {
		return nil, 0, err
	}
	if len(out) >= len(payload) {
		return payload, 0, nil
	}
	return out, int32(c.outgoing), nil
}

// Decode restores a payload written with the given flag
func (c *Codec) Decode(payload []byte, flag int32) ([]byte, error) {
	t := TypeFromFlag(flag)
	if t == None {
		return payload, nil
	}
	if c == nil {
		comp, err := GetCompressor(t)
		if err != nil {
			return nil, err
		}
		if z, ok := comp.(*zstdCompression); ok {
			defer z.Close()
		}
		return comp.Decompress(payload)
	}
	comp, err := c.get(t)
	if err != nil {
		return nil, err
	}
	return comp.Decompress(payload)
}

// Close releases codec resources
func (c *Codec) Close() {
	if c == nil {
		return
	}
	for _, comp := range c.compressor {
		if z, ok := comp.(*zstdCompression); ok {
			z.Close()
		}
	}
	c.compressor = make(map[CompressionType]Compressor)
}

// CalculateCompressionRatio returns compressed size over original size
func CalculateCompressionRatio(originalSize, compressedSize int) float64 {
	if originalSize == 0 {
		return 0
	}
	return float64(compressedSize) / float64(originalSize)
}
