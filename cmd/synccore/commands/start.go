package commands

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/spf13/cobra"

	"github.com/syncore/coreserver/internal/logger"
	"github.com/syncore/coreserver/internal/telemetry"
	"github.com/syncore/coreserver/pkg/blobstore"
	"github.com/syncore/coreserver/pkg/blobstore/fs"
	blobs3 "github.com/syncore/coreserver/pkg/blobstore/s3"
	"github.com/syncore/coreserver/pkg/config"
	"github.com/syncore/coreserver/pkg/contentmanager"
	"github.com/syncore/coreserver/pkg/metrics"
	"github.com/syncore/coreserver/pkg/metricshttp"
	"github.com/syncore/coreserver/pkg/protocol"
	"github.com/syncore/coreserver/pkg/protocol/wire"
	"github.com/syncore/coreserver/pkg/rpcdal"
	"github.com/syncore/coreserver/pkg/rpcdal/fake"
	"github.com/syncore/coreserver/pkg/rpcdal/postgres"
	"github.com/syncore/coreserver/pkg/transfer"
	"github.com/syncore/coreserver/pkg/uploadregistry"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the synccore transfer server",
	Long: `Start the synccore transfer server: accept connections on
server.listen_addr, authenticate each one, and serve upload/download RPCs
against the configured RpcDal and blob store backends.

Examples:
  # Start with default config location
  synccore start

  # Start with custom config
  synccore start --config /etc/synccore/config.yaml

  # Override config via environment variables
  SYNCCORE_LOGGING_LEVEL=DEBUG synccore start`,
	RunE: runStart,
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return err
	}
	if err := InitLogger(cfg); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	profilingShutdown, err := telemetry.InitProfiling(cfg.Telemetry.Profiling.ToProfilingConfig())
	if err != nil {
		return fmt.Errorf("failed to initialize profiling: %w", err)
	}
	defer func() {
		if err := profilingShutdown(); err != nil {
			logger.Error("profiling shutdown error", "error", err)
		}
	}()

	if telemetry.IsProfilingEnabled() {
		logger.Info("profiling enabled", "endpoint", cfg.Telemetry.Profiling.Endpoint)
	} else {
		logger.Info("profiling disabled")
	}

	if cfg.Metrics.Enabled {
		metrics.InitRegistry()
	}

	rpc, rpcCloser, err := newRpcDal(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize rpcdal: %w", err)
	}
	if rpcCloser != nil {
		defer rpcCloser()
	}

	store, err := newBlobStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize blob store: %w", err)
	}

	db, err := badgerdb.Open(badgerdb.DefaultOptions(cfg.UploadRegistry.Path))
	if err != nil {
		return fmt.Errorf("failed to open upload registry: %w", err)
	}
	defer func() { _ = db.Close() }()
	registry := uploadregistry.Open(db)

	gc := uploadregistry.NewGCSweeper(registry, cfg.UploadRegistry.GCTimeout, cfg.UploadRegistry.GCInterval)
	gc.Start(ctx)
	defer gc.Stop()

	magicSalt, err := magicSaltBytes(cfg.Server.MagicSaltHex)
	if err != nil {
		return fmt.Errorf("invalid server.magic_salt_hex: %w", err)
	}

	transferCfg := toTransferConfig(cfg)
	cm := contentmanager.New(rpc, store, registry, magicSalt, transferCfg)

	var metricsServer *metricshttp.Server
	if cfg.Metrics.Enabled {
		metricsServer = metricshttp.NewServer(cfg.Metrics.ToMetricsHTTPConfig(), cm)
		if err := metricsServer.Start(ctx); err != nil {
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
		defer func() {
			if err := metricsServer.Stop(context.Background()); err != nil {
				logger.Error("metrics server shutdown error", "error", err)
			}
		}()
		logger.Info("metrics server listening", "port", metricsServer.Port())
	}

	listener, err := net.Listen("tcp", cfg.Server.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", cfg.Server.ListenAddr, err)
	}
	defer func() { _ = listener.Close() }()
	logger.Info("synccore server listening", "addr", cfg.Server.ListenAddr)

	protoCfg := toProtocolConfig(cfg)
	transferMetrics := metrics.NewTransfer()

	serverDone := make(chan error, 1)
	go func() {
		serverDone <- acceptLoop(ctx, listener, cm, protoCfg, transferMetrics)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("server is running, press Ctrl+C to stop")

	select {
	case <-sigChan:
		signal.Stop(sigChan)
		logger.Info("shutdown signal received, initiating graceful shutdown")
		cancel()
		_ = listener.Close()
		<-serverDone
		logger.Info("server stopped gracefully")

	case err := <-serverDone:
		signal.Stop(sigChan)
		if err != nil {
			logger.Error("server error", "error", err)
			return err
		}
		logger.Info("server stopped")
	}

	return nil
}

// acceptLoop accepts connections until ctx is cancelled or the listener is
// closed, serving each one on its own goroutine.
func acceptLoop(ctx context.Context, listener net.Listener, cm *contentmanager.Manager, cfg protocol.Config, m *metrics.Transfer) error {
	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return err
			}
		}
		go serveConn(ctx, conn, cm, cfg, m)
	}
}

func serveConn(ctx context.Context, netConn net.Conn, cm *contentmanager.Manager, cfg protocol.Config, m *metrics.Transfer) {
	defer func() { _ = netConn.Close() }()

	dec := wire.NewDecoder(netConn, cfg.MaxMessageSize)
	enc := wire.NewEncoder(netConn)
	transport := protocol.NewTransport(enc)

	c := protocol.NewConn(transport, dec, cm, cfg, m)
	if err := c.Serve(ctx); err != nil {
		logger.Debug("connection closed", "remote", netConn.RemoteAddr(), "error", err)
	}
}

// newRpcDal constructs the configured RpcDal backend. The returned closer
// is nil for the in-memory fake backend.
func newRpcDal(ctx context.Context, cfg *config.Config) (rpcdal.RpcDal, func(), error) {
	switch cfg.Database.Type {
	case "postgres":
		store, err := postgres.New(cfg.Database.Postgres)
		if err != nil {
			return nil, nil, err
		}
		return store, func() { _ = store.Close() }, nil
	case "fake":
		return fake.New(), nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown database.type %q (want postgres or fake)", cfg.Database.Type)
	}
}

func newBlobStore(ctx context.Context, cfg *config.Config) (blobstore.Store, error) {
	switch cfg.BlobStore.Type {
	case "fs":
		return fs.New(fs.Config{BasePath: cfg.BlobStore.FS.BasePath})
	case "s3":
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.BlobStore.S3.Region))
		if err != nil {
			return nil, fmt.Errorf("load aws config: %w", err)
		}
		client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
			if cfg.BlobStore.S3.Endpoint != "" {
				o.BaseEndpoint = &cfg.BlobStore.S3.Endpoint
			}
		})
		return blobs3.New(ctx, blobs3.Config{
			Client:    client,
			Bucket:    cfg.BlobStore.S3.Bucket,
			KeyPrefix: cfg.BlobStore.S3.KeyPrefix,
			PartSize:  cfg.BlobStore.S3.PartSize.Int64(),
		})
	default:
		return nil, fmt.Errorf("unknown blobstore.type %q (want fs or s3)", cfg.BlobStore.Type)
	}
}

func toTransferConfig(cfg *config.Config) transfer.Config {
	return transfer.Config{
		FlushThreshold: cfg.Transfer.FlushThreshold.Uint64(),
		QueueCapacity:  cfg.Transfer.QueueCapacity,
	}
}

func toProtocolConfig(cfg *config.Config) protocol.Config {
	return protocol.Config{
		BytesPayload:   int(cfg.Transfer.BytesPayload),
		MaxMessageSize: uint32(cfg.Transfer.MaxMessageSize),
	}
}

func magicSaltBytes(hexSalt string) ([]byte, error) {
	if hexSalt == "" {
		salt := make([]byte, 32)
		if _, err := rand.Read(salt); err != nil {
			return nil, err
		}
		logger.Warn("server.magic_salt_hex not set, generated an ephemeral salt for this run")
		return salt, nil
	}
	return hex.DecodeString(hexSalt)
}
