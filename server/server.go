package server

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

type Config struct {
	EnableHTTP       bool          `envconfig:"SERVER_ENABLE_HTTP" yaml:"enable_http" default:"true"`
	EnableGRPC       bool          `envconfig:"SERVER_ENABLE_GRPC" yaml:"enable_grpc" default:"false"`
	HTTPPort         string        `envconfig:"HTTP_PORT" yaml:"http_port" default:"8080" validate:"required,numeric"`
	GRPCPort         string        `envconfig:"GRPC_PORT" yaml:"grpc_port" default:"9090" validate:"required,numeric"`
	HTTPReadTimeout  time.Duration `envconfig:"HTTP_READ_TIMEOUT" yaml:"http_read_timeout" default:"10s"`
	HTTPWriteTimeout time.Duration `envconfig:"HTTP_WRITE_TIMEOUT" yaml:"http_write_timeout" default:"60s"`
	ShutdownTimeout  time.Duration `envconfig:"SHUTDOWN_TIMEOUT" yaml:"shutdown_timeout" default:"15s" validate:"gt=0"`

	// Client certificates are required on both listeners when enabled.
	MTLSEnabled    bool   `envconfig:"MTLS_ENABLED" yaml:"mtls_enabled" default:"false"`
	MTLSCACert     string `envconfig:"MTLS_CA_CERT" yaml:"mtls_ca_cert" validate:"required_if=MTLSEnabled true"`
	MTLSServerCert string `envconfig:"MTLS_SERVER_CERT" yaml:"mtls_server_cert" validate:"required_if=MTLSEnabled true"`
	MTLSServerKey  string `envconfig:"MTLS_SERVER_KEY" yaml:"mtls_server_key" validate:"required_if=MTLSEnabled true"`
}

// Server owns the HTTP API listener and the optional gRPC health listener.
type Server struct {
	cfg     Config
	logger  *slog.Logger
	handler http.Handler
	grpcSrv *grpc.Server
	health  *health.Server
}

func New(cfg Config, logger *slog.Logger, handler http.Handler, grpcSrv *grpc.Server, hs *health.Server) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:     cfg,
		logger:  logger.With("component", "server"),
		handler: handler,
		grpcSrv: grpcSrv,
		health:  hs,
	}
}

// NewGRPCServer builds a gRPC server exposing only the standard health service,
// behind the same mTLS settings as the HTTP listener.
func NewGRPCServer(cfg Config, interceptors ...grpc.UnaryServerInterceptor) (*grpc.Server, *health.Server, error) {
	opts := []grpc.ServerOption{grpc.ChainUnaryInterceptor(interceptors...)}
	if cfg.MTLSEnabled {
		tlsCfg, err := loadMTLSConfig(cfg.MTLSCACert, cfg.MTLSServerCert, cfg.MTLSServerKey)
		if err != nil {
			return nil, nil, fmt.Errorf("server: grpc mtls: %w", err)
		}
		opts = append(opts, grpc.Creds(credentials.NewTLS(tlsCfg)))
	}
	srv := grpc.NewServer(opts...)
	hs := health.NewServer()
	healthpb.RegisterHealthServer(srv, hs)
	return srv, hs, nil
}

// Start binds the enabled listeners, then serves until ctx is cancelled or a listener fails.
// A bind error is returned before anything is served.
func (s *Server) Start(ctx context.Context) error {
	var tlsCfg *tls.Config
	if s.cfg.MTLSEnabled {
		var err error
		if tlsCfg, err = loadMTLSConfig(s.cfg.MTLSCACert, s.cfg.MTLSServerCert, s.cfg.MTLSServerKey); err != nil {
			return fmt.Errorf("server: mtls: %w", err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	var httpSrv *http.Server

	if s.cfg.EnableHTTP {
		lis, err := SystemSocket(s.cfg.HTTPPort)
		if err != nil {
			return fmt.Errorf("server: http listen: %w", err)
		}
		httpSrv = &http.Server{
			Handler:           s.handler,
			TLSConfig:         tlsCfg,
			ReadTimeout:       s.cfg.HTTPReadTimeout,
			ReadHeaderTimeout: 5 * time.Second,
			WriteTimeout:      s.cfg.HTTPWriteTimeout,
			IdleTimeout:       120 * time.Second,
		}
		s.logger.Info("http server listening", "addr", lis.Addr().String(), "mtls", tlsCfg != nil)
		g.Go(func() error {
			var err error
			if tlsCfg != nil {
				err = httpSrv.ServeTLS(lis, "", "")
			} else {
				err = httpSrv.Serve(lis)
			}
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return fmt.Errorf("server: http: %w", err)
		})
	}

	grpcSrv := s.grpcSrv
	if s.cfg.EnableGRPC && grpcSrv != nil {
		lis, err := SystemSocket(s.cfg.GRPCPort)
		if err != nil {
			if httpSrv != nil {
				_ = httpSrv.Close()
			}
			return fmt.Errorf("server: grpc listen: %w", err)
		}
		if s.health != nil {
			s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
		}
		s.logger.Info("grpc server listening", "addr", lis.Addr().String())
		g.Go(func() error {
			if err := grpcSrv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				return fmt.Errorf("server: grpc: %w", err)
			}
			return nil
		})
	} else {
		grpcSrv = nil
	}

	g.Go(func() error {
		<-gctx.Done()
		return s.shutdown(httpSrv, grpcSrv)
	})
	return g.Wait()
}

// shutdown flips health to NOT_SERVING first so balancers drain us, then stops both
// listeners within ShutdownTimeout. gRPC calls still running at the deadline are cut.
func (s *Server) shutdown(httpSrv *http.Server, grpcSrv *grpc.Server) error {
	s.logger.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	if s.health != nil {
		s.health.Shutdown()
	}

	var err error
	if httpSrv != nil {
		if err = httpSrv.Shutdown(ctx); err != nil {
			err = fmt.Errorf("server: http shutdown: %w", err)
		}
	}
	if grpcSrv != nil {
		stopped := make(chan struct{})
		go func() {
			grpcSrv.GracefulStop()
			close(stopped)
		}()
		select {
		case <-stopped:
		case <-ctx.Done():
			grpcSrv.Stop()
		}
	}
	return err
}

func loadMTLSConfig(caPath, certPath, keyPath string) (*tls.Config, error) {
	caPEM, err := os.ReadFile(caPath)
	if err != nil {
		return nil, fmt.Errorf("read ca: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caPEM) {
		return nil, errors.New("ca file holds no PEM certificates")
	}
	cert, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return nil, fmt.Errorf("load server key pair: %w", err)
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		ClientCAs:    pool,
		ClientAuth:   tls.RequireAndVerifyClientCert,
		MinVersion:   tls.VersionTLS12,
	}, nil
}

func SystemSocket(port string) (net.Listener, error) {
	return net.Listen("tcp", ":"+port)
}
