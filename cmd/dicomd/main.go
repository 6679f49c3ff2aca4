package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rollbar/rollbar-go"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	dicomweb "gitlab.com/medical-research/dicomweb"
	"gitlab.com/medical-research/dicomweb/amazons3"
	"gitlab.com/medical-research/dicomweb/gcloudstorage"
	"gitlab.com/medical-research/dicomweb/healthcare"
	"gitlab.com/medical-research/dicomweb/http"
	"gitlab.com/medical-research/dicomweb/logger"
	"gitlab.com/medical-research/dicomweb/redis"
	"gitlab.com/medical-research/dicomweb/store"
	"gitlab.com/medical-research/dicomweb/stow"
	"gitlab.com/medical-research/dicomweb/wado"
)

func main() {
	// Setup signal handlers.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := NewCommand().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// NewCommand returns the root command of the program.
func NewCommand() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:          "dicomd",
		Short:        "DICOMweb STOW-RS and WADO-RS bridge",
		Version:      dicomweb.Version,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			config, err := LoadConfig(v)
			if err != nil {
				return err
			}

			// Instantiate a new type to represent our application.
			// This type lets us shared setup code with our end-to-end tests.
			m := NewMain()
			m.Config = config

			// Execute program.
			if err := m.Run(ctx); err != nil {
				m.Close()
				fmt.Fprintln(os.Stderr, err)
				dicomweb.ReportError(ctx, err)
				return err
			}

			// Wait for CTRL-C.
			<-ctx.Done()

			// Clean up program.
			return m.Close()
		},
	}

	if err := BindFlags(v, cmd.Flags()); err != nil {
		panic(err)
	}
	return cmd
}

// Main represents the program.
type Main struct {
	// Parsed config data.
	Config Config

	// Instance store shared by every service.
	Store *store.Store

	// HTTP server for handling HTTP communication.
	// Services are attached to it before running.
	HTTPServer *http.Server

	// Backend clients released on Close.
	closers []io.Closer
}

// NewMain returns a new instance of Main.
func NewMain() *Main {
	return &Main{
		HTTPServer: http.NewServer(),
	}
}

// Close gracefully stops the program.
func (m *Main) Close() error {
	var firstErr error
	if m.HTTPServer != nil {
		if err := m.HTTPServer.Close(); err != nil {
			firstErr = err
		}
	}
	for _, c := range m.closers {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	m.closers = nil
	return firstErr
}

// Run executes the program. The configuration should already be set up before
// calling this function.
func (m *Main) Run(ctx context.Context) (err error) {
	// Initialize error tracking.
	if m.Config.Rollbar.Token != "" {
		rollbar.SetToken(m.Config.Rollbar.Token)
		rollbar.SetEnvironment(m.Config.Rollbar.Environment)
		rollbar.SetCodeVersion(dicomweb.Version)
		rollbar.SetServerRoot("gitlab.com/medical-research/dicomweb")
		dicomweb.ReportError = rollbarReportError
		dicomweb.ReportPanic = rollbarReportPanic
		logger.Info().Msg("rollbar error tracking enabled")
	}

	blobs, err := m.openBlobs(ctx)
	if err != nil {
		return err
	}
	index, err := m.openIndex(ctx)
	if err != nil {
		return err
	}
	m.Store = store.New(blobs, index)

	stowConfig, err := m.Config.StowConfig()
	if err != nil {
		return err
	}
	servers, err := m.Config.ServerRegistry()
	if err != nil {
		return err
	}
	maxRequestSize, err := m.Config.MaxRequestSize()
	if err != nil {
		return err
	}
	transports, err := m.openTransports(ctx)
	if err != nil {
		return err
	}

	// Instantiate store-backed services.
	stowClient := stow.NewClient(m.Store, transports)
	stowClient.Config = stowConfig

	// Copy configuration settings to the HTTP server.
	m.HTTPServer.Addr = m.Config.HTTP.Addr
	m.HTTPServer.Domain = m.Config.HTTP.Domain
	m.HTTPServer.PublicURL = m.Config.HTTP.PublicURL
	m.HTTPServer.MaxRequestSize = maxRequestSize
	m.HTTPServer.Servers = servers
	m.HTTPServer.StowServerService = stow.NewReceiver(m.Store)
	m.HTTPServer.StowClientService = stowClient
	m.HTTPServer.RetrieveService = wado.NewRetriever(m.Store, transports)
	m.HTTPServer.ExportService = wado.NewExporter(m.Store)

	// Start the HTTP server.
	if err := m.HTTPServer.Open(); err != nil {
		return err
	}

	// If TLS enabled, redirect non-TLS connections to TLS.
	if m.HTTPServer.UseTLS() {
		go func() {
			if err := http.ListenAndServeTLSRedirect(m.Config.HTTP.Domain); err != nil {
				logger.Error().Err(err).Msg("TLS redirect listener stopped")
			}
		}()
	}

	// Enable internal debug endpoints.
	if addr := m.Config.Debug.Addr; addr != "" {
		go func() {
			if err := http.ListenAndServeDebug(addr); err != nil {
				logger.Error().Err(err).Msg("debug listener stopped")
			}
		}()
	}

	logger.Info().
		Str("url", m.HTTPServer.URL()).
		Str("debug", m.Config.Debug.Addr).
		Strs("servers", servers.ServerNames()).
		Str("blobs", m.Config.Store.Blobs).
		Str("index", m.Config.Store.Index).
		Msg("running")

	return nil
}

func (m *Main) openBlobs(ctx context.Context) (store.BlobStore, error) {
	switch m.Config.Store.Blobs {
	case "", BackendMemory:
		return store.NewMemoryBlobs(), nil

	case BackendGCS:
		if m.Config.GCS.Bucket == "" {
			return nil, dicomweb.Errorf(dicomweb.EINVALID, "gcs.bucket required")
		}
		opts, err := gcloudstorage.CredentialsOption(ctx, m.Config.GCS.CredentialsFile)
		if err != nil {
			return nil, err
		}
		gcs, err := gcloudstorage.NewGCloudStorage(ctx, opts...)
		if err != nil {
			return nil, err
		}
		m.closers = append(m.closers, gcs)
		return gcloudstorage.NewCloudStorageService(gcs, m.Config.GCS.Bucket), nil

	case BackendS3:
		blobs, err := amazons3.New(ctx, amazons3.Config{
			Bucket:    m.Config.S3.Bucket,
			Region:    m.Config.S3.Region,
			Endpoint:  m.Config.S3.Endpoint,
			AccessKey: m.Config.S3.AccessKey,
			SecretKey: m.Config.S3.SecretKey,
		})
		if err != nil {
			return nil, err
		}
		return blobs, nil
	}
	return nil, dicomweb.Errorf(dicomweb.EINVALID, "unknown blob backend: %s", m.Config.Store.Blobs)
}

func (m *Main) openIndex(ctx context.Context) (store.Index, error) {
	switch m.Config.Store.Index {
	case "", BackendMemory:
		return store.NewMemoryIndex(), nil

	case BackendRedis:
		if m.Config.Redis.URL == "" {
			return nil, dicomweb.Errorf(dicomweb.EINVALID, "redis.url required")
		}
		index, err := redis.Open(ctx, m.Config.Redis.URL)
		if err != nil {
			return nil, err
		}
		m.closers = append(m.closers, index)
		return index, nil
	}
	return nil, dicomweb.Errorf(dicomweb.EINVALID, "unknown index backend: %s", m.Config.Store.Index)
}

// openTransports creates the Cloud Healthcare transport only when a server
// needs it, as it requires Google credentials.
func (m *Main) openTransports(ctx context.Context) (Transports, error) {
	transports := Transports{
		dicomweb.TransportHTTP: http.NewClient(http.DefaultTimeout),
	}

	if m.Config.UsesTransport(dicomweb.TransportHealthcare) {
		opts, err := healthcare.CredentialsOption(ctx, m.Config.Healthcare.CredentialsFile)
		if err != nil {
			return nil, err
		}
		t, err := healthcare.NewTransport(ctx, opts...)
		if err != nil {
			return nil, err
		}
		transports[dicomweb.TransportHealthcare] = t
	}
	return transports, nil
}

// rollbarReportError reports server-side errors to rollbar. A request
// passed in args is attached to the item.
func rollbarReportError(ctx context.Context, err error, args ...interface{}) {
	switch dicomweb.ErrorCode(err) {
	case dicomweb.EINTERNAL, dicomweb.ESTORE, dicomweb.ENOMEM:
	default:
		return
	}
	rollbar.Error(append([]interface{}{err}, args...)...)
	logger.Ctx(ctx).Error().Err(err).Msg("reported error")
}

// rollbarReportPanic reports panics to rollbar.
func rollbarReportPanic(err interface{}) {
	logger.Error().Interface("panic", err).Msg("reported panic")
	rollbar.LogPanic(err, true)
}
