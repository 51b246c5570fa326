// Fakenode is a throwaway service node for exercising the dispatcher
// locally. It answers every path with JSON and fails a configurable share
// of requests with 500, so retries and exclusion can be watched.
//
// Usage:
//
//	go run ./scripts/fakenode --port 8081 --fail-rate 0.3
//	go run ./scripts/fakenode --port 8082 --service user --redis 127.0.0.1:6379
//
// With --redis the node adds itself to the registry hashes on start and
// removes itself on exit, standing in for the external process that
// normally registers nodes.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"

	"github.com/angeloszaimis/dispatcher/internal/registry"
)

type reply struct {
	ID     string `json:"id"`
	Node   string `json:"node"`
	Method string `json:"method"`
	Path   string `json:"path"`
	Body   string `json:"body,omitempty"`
}

func main() {
	port := pflag.Int("port", 8081, "port to listen on")
	failRate := pflag.Float64("fail-rate", 0, "share of requests answered with 500 (0..1)")
	service := pflag.String("service", "user", "service name to register under")
	redisAddr := pflag.String("redis", "", "register in this redis registry (host:port)")
	pflag.Parse()

	log := slog.New(slog.NewTextHandler(os.Stdout, nil))
	node := fmt.Sprintf("127.0.0.1:%d", *port)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if *redisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: *redisAddr})
		defer rdb.Close()

		if err := register(ctx, rdb, *service, node); err != nil {
			log.Error("Failed to register", slog.Any("err", err))
			os.Exit(1)
		}
		log.Info("Registered", slog.String("service", *service), slog.String("node", node))

		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := rdb.HDel(ctx, registry.ServiceListKey(*service), node).Err(); err != nil {
				log.Warn("Failed to deregister", slog.Any("err", err))
			}
		}()
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		log.Info("request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("from", r.RemoteAddr))

		if rand.Float64() < *failRate {
			http.Error(w, `{"error":"injected failure","node":"`+node+`"}`, http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(reply{
			ID:     uuid.NewString(),
			Node:   node,
			Method: r.Method,
			Path:   r.URL.Path,
			Body:   string(body),
		})
	})

	srv := &http.Server{Addr: fmt.Sprintf(":%d", *port), Handler: mux}
	go func() {
		<-ctx.Done()
		srv.Shutdown(context.Background())
	}()

	log.Info("Starting fake node", slog.String("addr", srv.Addr), slog.Float64("fail_rate", *failRate))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error("Server failed", slog.Any("err", err))
	}
}

func register(ctx context.Context, rdb *redis.Client, service, node string) error {
	_, err := rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, registry.ServiceNamesKey, service, 1)
		pipe.HSet(ctx, registry.ServiceListKey(service), node, time.Now().Unix())
		return nil
	})
	return err
}
