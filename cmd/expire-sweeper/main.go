// Command expire-sweeper запускает один проход истечения сроков через gRPC.
// Предназначен для внешнего планировщика (cron, Kubernetes CronJob).
package main

import (
	"context"
	"flag"
	"os"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	grpcsvc "github.com/vladislavdragonenkov/orderflow/internal/service/grpc"
)

const envTarget = "ORDERFLOW_GRPC_TARGET"

func main() {
	target := flag.String("target", "", "orderflow gRPC address (fallback: "+envTarget+", then localhost:50051)")
	transactionID := flag.String("transaction", "", "expire only this transaction")
	paymentID := flag.String("payment", "", "expire only this payment")
	timeout := flag.Duration("timeout", 30*time.Second, "call timeout")
	flag.Parse()

	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	logger := log.WithField("component", "expire-sweeper")

	addr := resolveTarget(*target, os.Getenv(envTarget))
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		logger.WithError(err).Fatal("failed to create grpc client")
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	if _, err := sweep(ctx, grpcsvc.NewLifecycleClient(conn), &grpcsvc.SweepExpiredRequest{
		TransactionID: strings.TrimSpace(*transactionID),
		PaymentID:     strings.TrimSpace(*paymentID),
	}, logger.WithField("target", addr)); err != nil {
		logger.WithError(err).Fatal("sweep failed")
	}
}

func resolveTarget(flagValue, envValue string) string {
	if v := strings.TrimSpace(flagValue); v != "" {
		return v
	}
	if v := strings.TrimSpace(envValue); v != "" {
		return v
	}
	return "localhost:50051"
}

// sweeper — часть LifecycleClient, нужная команде.
type sweeper interface {
	SweepExpired(ctx context.Context, in *grpcsvc.SweepExpiredRequest, opts ...grpc.CallOption) (*grpcsvc.SweepExpiredResponse, error)
}

func sweep(ctx context.Context, client sweeper, req *grpcsvc.SweepExpiredRequest, logger *log.Entry) (*grpcsvc.SweepExpiredResponse, error) {
	start := time.Now()
	resp, err := client.SweepExpired(ctx, req)
	if err != nil {
		return nil, err
	}
	logger.WithFields(log.Fields{
		"transaction_id": req.TransactionID,
		"payment_id":     req.PaymentID,
		"payments":       resp.Payments,
		"transactions":   resp.Transactions,
		"took":           time.Since(start).String(),
	}).Info("expiry sweep finished")
	return resp, nil
}
