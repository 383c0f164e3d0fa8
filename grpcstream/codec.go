package grpcstream

import (
	"io"

	"github.com/klauspost/compress/zstd"
	"google.golang.org/grpc/encoding"
	// Registers the gzip compressor so gzip-encoded responses are accepted.
	_ "google.golang.org/grpc/encoding/gzip"
)

const zstdName = "zstd"

func init() {
	encoding.RegisterCompressor(&zstdCompressor{})
}

// zstdCompressor adapts klauspost zstd to the grpc compressor interface.
// Registering it makes zstd acceptable on responses and usable for requests
// via grpc.UseCompressor.
type zstdCompressor struct{}

func (c *zstdCompressor) Name() string {
	return zstdName
}

func (c *zstdCompressor) Compress(w io.Writer) (io.WriteCloser, error) {
	return zstd.NewWriter(w)
}

func (c *zstdCompressor) Decompress(r io.Reader) (io.Reader, error) {
	dec, err := zstd.NewReader(r)
	if err != nil {
		return nil, err
	}
	return dec.IOReadCloser(), nil
}
