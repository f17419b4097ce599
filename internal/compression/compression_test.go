package compression

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompressorsRoundTrip(t *testing.T) {
	data := bytes.Repeat([]byte("metaq message payload "), 200)

	for _, ct := range []CompressionType{None, Gzip, Zlib, Snappy, Zstd} {
		t.Run(ct.String(), func(t *testing.T) {
			comp, err := GetCompressor(ct)
			require.NoError(t, err)
			assert.Equal(t, ct, comp.Type())

			compressed, err := comp.Compress(data)
			require.NoError(t, err)
			if ct != None {
				assert.Less(t, len(compressed), len(data))
			}

			restored, err := comp.Decompress(compressed)
			require.NoError(t, err)
			assert.Equal(t, data, restored)
		})
	}

	_, err := GetCompressor(CompressionType(7))
	assert.Error(t, err)
}

func TestParseType(t *testing.T) {
	for name, want := range map[string]CompressionType{
		"": None, "none": None, "GZIP": Gzip, "zlib": Zlib, " snappy ": Snappy, "zstd": Zstd,
	} {
		got, err := ParseType(name)
		require.NoError(t, err, name)
		assert.Equal(t, want, got, name)
	}
	_, err := ParseType("lz4")
	assert.Error(t, err)

	var ct CompressionType
	require.NoError(t, ct.UnmarshalText([]byte("snappy")))
	assert.Equal(t, Snappy, ct)
	text, err := ct.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "snappy", string(text))
}

func TestCodecThreshold(t *testing.T) {
	codec, err := NewCodec(Snappy, 64)
	require.NoError(t, err)
	defer codec.Close()

	small := []byte("hello")
	out, flag, err := codec.Encode(small)
	require.NoError(t, err)
	assert.Equal(t, small, out)
	assert.Zero(t, flag)

	large := bytes.Repeat([]byte("a"), 4096)
	out, flag, err = codec.Encode(large)
	require.NoError(t, err)
	assert.Equal(t, Snappy, TypeFromFlag(flag))
	assert.Less(t, len(out), len(large))

	restored, err := codec.Decode(out, flag)
	require.NoError(t, err)
	assert.Equal(t, large, restored)
}

func TestCodecKeepsIncompressiblePayload(t *testing.T) {
	codec, err := NewCodec(Zstd, 1)
	require.NoError(t, err)
	defer codec.Close()

	payload := []byte{0x01, 0x02}
	out, flag, err := codec.Encode(payload)
	require.NoError(t, err)
	assert.Equal(t, payload, out)
	assert.Zero(t, flag)
}

func TestCodecDecodesAnyType(t *testing.T) {
	plain, err := NewCodec(None, 0)
	require.NoError(t, err)

	data := bytes.Repeat([]byte("xyz"), 1000)
	gz, _ := GetCompressor(Gzip)
	compressed, err := gz.Compress(data)
	require.NoError(t, err)

	restored, err := plain.Decode(compressed, int32(Gzip)|0x100)
	require.NoError(t, err)
	assert.Equal(t, data, restored)

	var nilCodec *Codec
	restored, err = nilCodec.Decode(compressed, int32(Gzip))
	require.NoError(t, err)
	assert.Equal(t, data, restored)

	out, flag, err := nilCodec.Encode(data)
	require.NoError(t, err)
	assert.Equal(t, data, out)
	assert.Zero(t, flag)

	_, err = plain.Decode([]byte("not gzip"), int32(Gzip))
	assert.Error(t, err)
}

func TestNewCodecRejectsUnknownType(t *testing.T) {
	_, err := NewCodec(CompressionType(6), 0)
	assert.Error(t, err)
}

func TestCalculateCompressionRatio(t *testing.T) {
	assert.Equal(t, 0.0, CalculateCompressionRatio(0, 10))
	assert.Equal(t, 0.5, CalculateCompressionRatio(100, 50))
}
