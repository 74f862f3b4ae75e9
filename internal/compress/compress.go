// Package compress provides the invertible codecs applied to large cache values.
package compress

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/s2"
	"github.com/klauspost/compress/zstd"
)

// Codec names.
const (
	NameNoop = "noop"
	NameGzip = "gzip"
	NameZstd = "zstd"
	NameS2   = "s2"
)

// Compressor is an invertible byte transformation: Decompress(Compress(x)) == x.
type Compressor interface {
	Name() string
	Compress(data []byte) ([]byte, error)
	Decompress(data []byte) ([]byte, error)
}

// ByName returns the codec registered under name. An empty name selects gzip.
func ByName(name string) (Compressor, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case NameGzip, "":
		return NewGzip(gzip.DefaultCompression), nil
	case NameNoop, "none":
		return Noop{}, nil
	case NameZstd:
		return NewZstd()
	case NameS2, "snappy":
		return S2{}, nil
	default:
		return nil, fmt.Errorf("unknown compression algorithm: %s", name)
	}
}

// Noop returns its input unchanged.
type Noop struct{}

func (Noop) Name() string { return NameNoop }

func (Noop) Compress(data []byte) ([]byte, error) {
	return append([]byte(nil), data...), nil
}

func (Noop) Decompress(data []byte) ([]byte, error) {
	return append([]byte(nil), data...), nil
}

// Gzip compresses with klauspost's gzip implementation. Writers are pooled.
type Gzip struct {
	level   int
	writers sync.Pool
}

// NewGzip creates a gzip codec at the given level.
func NewGzip(level int) *Gzip {
	g := &Gzip{level: level}
	g.writers.New = func() interface{} {
		w, err := gzip.NewWriterLevel(io.Discard, level)
		if err != nil {
			w = gzip.NewWriter(io.Discard)
		}
		return w
	}
	return g
}

func (g *Gzip) Name() string { return NameGzip }

func (g *Gzip) Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := g.writers.Get().(*gzip.Writer)
	defer g.writers.Put(w)

	w.Reset(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, fmt.Errorf("gzip write: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("gzip close: %w", err)
	}
	return buf.Bytes(), nil
}

func (g *Gzip) Decompress(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("gzip reader: %w", err)
	}
	defer func() { _ = r.Close() }()

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(r); err != nil {
		return nil, fmt.Errorf("gzip read: %w", err)
	}
	return buf.Bytes(), nil
}

// Zstd holds one encoder and one decoder; EncodeAll and DecodeAll are safe for concurrent use.
type Zstd struct {
	enc *zstd.Encoder
	dec *zstd.Decoder
}

// NewZstd creates a zstd codec.
func NewZstd() (*Zstd, error) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		_ = enc.Close()
		return nil, fmt.Errorf("zstd decoder: %w", err)
	}
	return &Zstd{enc: enc, dec: dec}, nil
}

func (z *Zstd) Name() string { return NameZstd }

func (z *Zstd) Compress(data []byte) ([]byte, error) {
	return z.enc.EncodeAll(data, nil), nil
}

func (z *Zstd) Decompress(data []byte) ([]byte, error) {
	out, err := z.dec.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("zstd decode: %w", err)
	}
	return out, nil
}

// Close releases the encoder and decoder goroutines.
func (z *Zstd) Close() error {
	z.dec.Close()
	return z.enc.Close()
}

// Release closes c when it holds resources.
func Release(c Compressor) error {
	if closer, ok := c.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

// S2 is the Snappy-compatible block format, favoring speed over ratio.
type S2 struct{}

func (S2) Name() string { return NameS2 }

func (S2) Compress(data []byte) ([]byte, error) {
	return s2.Encode(nil, data), nil
}

func (S2) Decompress(data []byte) ([]byte, error) {
	out, err := s2.Decode(nil, data)
	if err != nil {
		return nil, fmt.Errorf("s2 decode: %w", err)
	}
	return out, nil
}
