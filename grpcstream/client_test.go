package grpcstream

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/encoding"

	"github.com/chainstream/txn-indexer/config"
	"github.com/chainstream/txn-indexer/logging"
)

func newTestConfig(url string) *config.TransactionStreamConfig {
	return &config.TransactionStreamConfig{
		DataServiceURL:          url,
		AuthToken:               "secret",
		RequestNameHeader:       "test-indexer",
		ReconnectionTimeoutSecs: 1,
		ResponseItemTimeoutSecs: 1,
	}
}

func TestNewClient(t *testing.T) {
	t.Run("https url", func(t *testing.T) {
		c, err := NewClient(logging.New(), newTestConfig("https://grpc.mainnet.aptoslabs.com:443"))
		require.NoError(t, err)
		require.Equal(t, "grpc.mainnet.aptoslabs.com:443", c.Target())
		require.True(t, c.(*grpcClient).secure)
	})

	t.Run("http url", func(t *testing.T) {
		c, err := NewClient(logging.New(), newTestConfig("http://localhost:50051"))
		require.NoError(t, err)
		require.Equal(t, "localhost:50051", c.Target())
		require.False(t, c.(*grpcClient).secure)
	})

	t.Run("empty url", func(t *testing.T) {
		_, err := NewClient(logging.New(), newTestConfig(""))
		require.Error(t, err)
	})
}

func TestZstdCompressor(t *testing.T) {
	comp := encoding.GetCompressor(zstdName)
	require.NotNil(t, comp)

	payload := bytes.Repeat([]byte("transactions"), 1024)

	var buf bytes.Buffer
	w, err := comp.Compress(&buf)
	require.NoError(t, err)
	_, err = w.Write(payload)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	require.Less(t, buf.Len(), len(payload))

	r, err := comp.Decompress(&buf)
	require.NoError(t, err)
	restored, err := io.ReadAll(r)
	require.NoError(t, err)
	require.Equal(t, payload, restored)
}

func TestGzipCompressorRegistered(t *testing.T) {
	require.NotNil(t, encoding.GetCompressor("gzip"))
}
