package main

import (
	"fmt"

	"github.com/PaulBabatuyi/marketchat/internal/config"
	"github.com/PaulBabatuyi/marketchat/internal/middleware"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// chatServiceName is the health entry load balancers probe.
const chatServiceName = "marketchat.v1.Chat"

// newGRPCServer builds the gRPC listener that carries the health service.
// TLS is used when tls.cert and tls.key are configured.
func newGRPCServer(cfg config.Config, log *zap.Logger, limiter *middleware.LimiterStore) (*grpc.Server, *health.Server, error) {
	var opts []grpc.ServerOption
	if cfg.TLS.Cert != "" && cfg.TLS.Key != "" {
		creds, err := credentials.NewServerTLSFromFile(cfg.TLS.Cert, cfg.TLS.Key)
		if err != nil {
			return nil, nil, fmt.Errorf("load TLS certs: %w", err)
		}
		opts = append(opts, grpc.Creds(creds))
	}

	opts = append(opts, grpc.ChainUnaryInterceptor(
		middleware.RateLimitUnaryInterceptor(limiter, nil),
		middleware.LoggingUnaryInterceptor(log),
	))

	srv := grpc.NewServer(opts...)
	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus(chatServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(srv, hs)
	return srv, hs, nil
}
