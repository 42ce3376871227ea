package main

import (
	"context"
	"database/sql"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/rl1809/allocation/internal/adapter/handler"
	"github.com/rl1809/allocation/internal/adapter/storage"
	"github.com/rl1809/allocation/internal/config"
	"github.com/rl1809/allocation/internal/core/service"
	"github.com/rl1809/allocation/internal/logger"
	"github.com/rl1809/allocation/internal/port"
)

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := viper.New()
	cmd := &cobra.Command{
		Use:          "allocation-server",
		Short:        "Allocates order lines against stock batches",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(v)
			if err != nil {
				return err
			}
			log, err := logger.New(cfg.LogLevel, cfg.LogMode)
			if err != nil {
				return err
			}
			defer log.Sync()
			return run(cmd.Context(), cfg, log)
		},
	}
	if err := config.RegisterFlags(cmd.Flags(), v); err != nil {
		panic(err)
	}
	return cmd
}

func run(ctx context.Context, cfg config.Config, log *zap.Logger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Store
	var uowFactory port.UnitOfWorkFactory
	switch cfg.Store {
	case config.StoreMySQL:
		db, err := openMySQL(ctx, cfg, log)
		if err != nil {
			return err
		}
		defer db.Close()
		uowFactory = storage.NewMySQLStore(db).NewUnitOfWork
	default:
		uowFactory = storage.NewMemoryStore().NewUnitOfWork
		log.Info("using in-memory store")
	}

	// Events and read model
	var (
		publisher port.EventPublisher
		views     port.AllocationViewRepository
	)
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			PoolSize: 100,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			return err
		}
		defer rdb.Close()
		log.Info("connected to redis", zap.String("addr", cfg.RedisAddr))

		redisAdapter := storage.NewRedisAdapter(rdb, cfg.RedisChannel)
		publisher, views = redisAdapter, redisAdapter
	} else {
		memoryAdapter := storage.NewMemoryAdapter()
		publisher, views = memoryAdapter, memoryAdapter
		log.Info("using in-memory event publisher")
	}

	bus := service.NewDefaultMessageBus(uowFactory, service.NewHandlers(publisher, views, log), log)

	// gRPC server
	var grpcServer *grpc.Server
	if cfg.GRPCAddr != "" {
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			return err
		}
		grpcServer = grpc.NewServer()
		handler.RegisterAllocationServiceServer(grpcServer, handler.NewGRPCHandler(bus, views))

		go func() {
			log.Info("gRPC server listening", zap.String("addr", cfg.GRPCAddr))
			if err := grpcServer.Serve(lis); err != nil {
				log.Error("gRPC server error", zap.Error(err))
			}
		}()
	}

	// HTTP server
	var httpServer *http.Server
	if cfg.HTTPAddr != "" {
		httpServer = &http.Server{
			Addr:    cfg.HTTPAddr,
			Handler: handler.NewHTTPHandler(bus, views, log).Routes(),
		}

		go func() {
			log.Info("HTTP server listening", zap.String("addr", cfg.HTTPAddr))
			if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				log.Error("HTTP server error", zap.Error(err))
			}
		}()
	}

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case <-ctx.Done():
	}

	log.Info("shutting down")

	if httpServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer shutdownCancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Warn("HTTP shutdown", zap.Error(err))
		}
		log.Info("HTTP server stopped")
	}

	if grpcServer != nil {
		grpcServer.GracefulStop()
		log.Info("gRPC server stopped")
	}
	return nil
}

func openMySQL(ctx context.Context, cfg config.Config, log *zap.Logger) (*sql.DB, error) {
	db, err := storage.OpenMySQL(cfg.MySQLDSN)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	log.Info("connected to mysql")

	if cfg.MySQLMigrate {
		if err := storage.NewMySQLStore(db).Migrate(ctx); err != nil {
			db.Close()
			return nil, err
		}
		log.Info("mysql schema migrated")
	}
	return db, nil
}
