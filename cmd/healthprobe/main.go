package main

import (
	"context"
	"flag"
	"log"
	"os"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health/grpc_health_v1"
)

// Exits 0 when the service reports SERVING, 1 otherwise. Usable as a
// container exec probe.
func main() {
	serverAddr := flag.String("server", "localhost:50051", "gRPC server address")
	service := flag.String("service", "stt.TranscriptionService", "Health service name; empty checks the server")
	timeout := flag.Duration("timeout", 3*time.Second, "Probe timeout")
	watch := flag.Bool("watch", false, "Stream status changes until interrupted")
	flag.Parse()

	conn, err := grpc.NewClient(*serverAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		log.Fatalf("failed to connect: %v", err)
	}
	defer conn.Close()

	client := grpc_health_v1.NewHealthClient(conn)
	req := &grpc_health_v1.HealthCheckRequest{Service: *service}

	if *watch {
		stream, err := client.Watch(context.Background(), req)
		if err != nil {
			log.Fatalf("watch failed: %v", err)
		}
		for {
			resp, err := stream.Recv()
			if err != nil {
				log.Fatalf("watch ended: %v", err)
			}
			log.Printf("%s: %s", *serverAddr, resp.GetStatus())
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	resp, err := client.Check(ctx, req)
	if err != nil {
		log.Printf("health check failed: %v", err)
		os.Exit(1)
	}
	log.Printf("%s %q: %s", *serverAddr, *service, resp.GetStatus())
	if resp.GetStatus() != grpc_health_v1.HealthCheckResponse_SERVING {
		os.Exit(1)
	}
}
