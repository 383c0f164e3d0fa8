package grpcstream

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/url"
	"time"

	indexerv1 "github.com/aptos-labs/aptos-protos/protos/go/aptos/indexer/v1"
	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/metadata"

	"github.com/chainstream/txn-indexer/config"
	"github.com/chainstream/txn-indexer/logging"
)

const (
	// Both directions carry up to 256 MiB per message, matching the data
	// service limits.
	maxMessageSize = 256 * 1024 * 1024

	connectRetries = 5
	requestRetries = 5

	connectionIDHeader = "x-aptos-connection-id"
	requestNameHeader  = "x-aptos-request-name"
)

var (
	ErrConnectTimeout = errors.New("timed out connecting to the data service")
	ErrConnectFailed  = errors.New("can't connect to the data service")
	ErrRequestFailed  = errors.New("can't start the transaction stream")
	ErrNoChainID      = errors.New("stream response carries no chain id")
	ErrStreamEnded    = errors.New("stream ended before yielding a response")
)

// TransactionStream is a single live GetTransactions stream. Recv blocks
// until the next response frame arrives or the stream fails.
type TransactionStream interface {
	Recv() (*indexerv1.TransactionsResponse, error)
	ConnectionID() string
	Close()
}

// Client opens transaction streams against a single data service endpoint.
type Client interface {
	Open(ctx context.Context, startingVersion uint64, endingVersion *uint64) (TransactionStream, error)
	FetchChainID(ctx context.Context) (uint64, error)
	Target() string
}

type stream struct {
	stream       indexerv1.RawData_GetTransactionsClient
	conn         *grpc.ClientConn
	cancel       context.CancelFunc
	connectionID string
}

func (s *stream) Recv() (*indexerv1.TransactionsResponse, error) {
	return s.stream.Recv()
}

func (s *stream) ConnectionID() string {
	return s.connectionID
}

func (s *stream) Close() {
	s.cancel()
	_ = s.conn.Close()
}

type grpcClient struct {
	logger logging.Logger
	cfg    *config.TransactionStreamConfig
	target string
	secure bool
}

func NewClient(logger logging.Logger, cfg *config.TransactionStreamConfig) (Client, error) {
	u, err := url.Parse(cfg.DataServiceURL)
	if err != nil {
		return nil, fmt.Errorf("can't parse data service url: %w", err)
	}
	target := u.Host
	if target == "" {
		target = u.Path
	}
	if target == "" {
		return nil, fmt.Errorf("data service url %q has no host", cfg.DataServiceURL)
	}
	return &grpcClient{
		logger: logger.WithField("data_service", target),
		cfg:    cfg,
		target: target,
		secure: u.Scheme == "https",
	}, nil
}

func (c *grpcClient) Target() string {
	return c.target
}

// Open dials the data service and starts a transaction stream at
// startingVersion. When endingVersion is set, the request asks for exactly
// the closed range [startingVersion, endingVersion]; otherwise the stream
// follows the ledger tip indefinitely.
func (c *grpcClient) Open(ctx context.Context, startingVersion uint64, endingVersion *uint64) (TransactionStream, error) {
	conn, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}

	req := &indexerv1.GetTransactionsRequest{
		StartingVersion: &startingVersion,
	}
	if endingVersion != nil {
		count := *endingVersion - startingVersion + 1
		req.TransactionsCount = &count
	}

	streamCtx, cancel := context.WithCancel(ctx)
	streamCtx = metadata.AppendToOutgoingContext(streamCtx,
		"authorization", "Bearer "+c.cfg.AuthToken,
		requestNameHeader, c.cfg.RequestNameHeader,
	)

	var rawStream indexerv1.RawData_GetTransactionsClient
	var header metadata.MD
	for attempt := 1; ; attempt++ {
		rawStream, header, err = c.getTransactions(streamCtx, conn, req)
		if err == nil {
			break
		}
		c.logger.WithError(err).WithField("attempt", attempt).Warn("stream request failed")
		if attempt >= requestRetries {
			cancel()
			_ = conn.Close()
			return nil, fmt.Errorf("%w after %d attempts: %s", ErrRequestFailed, attempt, err)
		}
	}

	connectionID := ""
	if vals := header.Get(connectionIDHeader); len(vals) > 0 {
		connectionID = vals[0]
	}
	c.logger.WithFields(logrus.Fields{
		"connection_id":    connectionID,
		"starting_version": startingVersion,
	}).Info("opened transaction stream")

	return &stream{
		stream:       rawStream,
		conn:         conn,
		cancel:       cancel,
		connectionID: connectionID,
	}, nil
}

func (c *grpcClient) dial(ctx context.Context) (*grpc.ClientConn, error) {
	creds := grpc.WithTransportCredentials(insecure.NewCredentials())
	if c.secure {
		creds = grpc.WithTransportCredentials(credentials.NewTLS(&tls.Config{}))
	}

	opts := []grpc.DialOption{
		creds,
		grpc.WithBlock(),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                c.cfg.HTTP2PingInterval(),
			Timeout:             c.cfg.HTTP2PingTimeout(),
			PermitWithoutStream: true,
		}),
		grpc.WithDefaultCallOptions(
			grpc.MaxCallRecvMsgSize(maxMessageSize),
			grpc.MaxCallSendMsgSize(maxMessageSize),
			grpc.UseCompressor(zstdName),
		),
	}

	var lastErr error
	for attempt := 1; attempt <= connectRetries; attempt++ {
		dialCtx, cancel := context.WithTimeout(ctx, c.cfg.ReconnectionTimeout())
		conn, err := grpc.DialContext(dialCtx, c.target, opts...)
		cancel()
		if err == nil {
			ObserveError(c.target, "Dial", nil)
			return conn, nil
		}
		lastErr = err
		ObserveError(c.target, "Dial", err)
		c.logger.WithError(err).WithField("attempt", attempt).Warn("can't connect to the data service")
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}
	if errors.Is(lastErr, context.DeadlineExceeded) {
		return nil, fmt.Errorf("%w after %d attempts", ErrConnectTimeout, connectRetries)
	}
	return nil, fmt.Errorf("%w after %d attempts: %s", ErrConnectFailed, connectRetries, lastErr)
}

func (c *grpcClient) getTransactions(
	ctx context.Context, conn *grpc.ClientConn, req *indexerv1.GetTransactionsRequest,
) (indexerv1.RawData_GetTransactionsClient, metadata.MD, error) {
	defer ObserveDuration(c.target, "GetTransactions")()

	rawStream, err := indexerv1.NewRawDataClient(conn).GetTransactions(ctx, req)
	if err != nil {
		ObserveError(c.target, "GetTransactions", err)
		return nil, nil, err
	}
	header, err := c.headerWithTimeout(ctx, rawStream)
	if err != nil {
		ObserveError(c.target, "GetTransactions", err)
		return nil, nil, err
	}
	ObserveError(c.target, "GetTransactions", nil)
	return rawStream, header, nil
}

// headerWithTimeout bounds the wait for stream headers, which is where a
// half-open connection would otherwise hang forever.
func (c *grpcClient) headerWithTimeout(
	ctx context.Context, rawStream indexerv1.RawData_GetTransactionsClient,
) (metadata.MD, error) {
	type headerResult struct {
		md  metadata.MD
		err error
	}
	ch := make(chan headerResult, 1)
	go func() {
		md, err := rawStream.Header()
		ch <- headerResult{md, err}
	}()

	select {
	case res := <-ch:
		return res.md, res.err
	case <-time.After(c.cfg.ReconnectionTimeout()):
		return nil, context.DeadlineExceeded
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// FetchChainID opens a short probe stream over versions [1, 2] and returns
// the chain id reported by the data service.
func (c *grpcClient) FetchChainID(ctx context.Context) (uint64, error) {
	end := uint64(2)
	probe, err := c.Open(ctx, 1, &end)
	if err != nil {
		return 0, err
	}
	defer probe.Close()

	resp, err := probe.Recv()
	if err != nil {
		return 0, fmt.Errorf("%w: %s", ErrStreamEnded, err)
	}
	if resp.ChainId == nil {
		return 0, ErrNoChainID
	}
	return *resp.ChainId, nil
}
