// Command healthcheck queries the service's gRPC health endpoint and exits
// non-zero unless it reports SERVING. It is meant for container probes.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	gs "github.com/dmitrijs2005/playersync/internal/server/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func main() {
	addr := flag.String("a", "127.0.0.1:50051", "gRPC health address")
	service := flag.String("service", gs.ServiceName, "service name to check, empty for the whole process")
	timeout := flag.Duration("timeout", 3*time.Second, "probe timeout")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	st, err := gs.Probe(ctx, *addr, *service)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	fmt.Println(st.String())
	if st != healthpb.HealthCheckResponse_SERVING {
		os.Exit(1)
	}
}
