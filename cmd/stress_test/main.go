package main

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"github.com/rl1809/allocation/internal/adapter/handler"
	"github.com/rl1809/allocation/internal/adapter/storage"
	"github.com/rl1809/allocation/internal/core/domain"
	"github.com/rl1809/allocation/internal/core/service"
	"github.com/rl1809/allocation/internal/logger"
	"github.com/rl1809/allocation/internal/port"
)

type options struct {
	sku        string
	stock      int
	requests   int
	maxRetries int
	mysqlDSN   string
	grpcAddr   string
}

// outcome of one allocation attempt after retries
type outcome int

const (
	allocated outcome = iota
	outOfStock
	exhausted
	failed
)

// allocator sends one Allocate and reports whether the failure is worth
// retrying.
type allocator func(ctx context.Context, cmd domain.Allocate) (retry bool, err error)

func main() {
	opts := options{}
	cmd := &cobra.Command{
		Use:   "stress_test",
		Short: "Fires concurrent allocations at one SKU and checks nothing is over-allocated",
		RunE: func(cmd *cobra.Command, args []string) error {
			log, err := logger.New("warn", "development")
			if err != nil {
				return err
			}
			defer log.Sync()
			return run(cmd.Context(), opts, log)
		},
	}
	cmd.Flags().StringVar(&opts.sku, "sku", "stress-"+uuid.NewString()[:8], "SKU to allocate against")
	cmd.Flags().IntVar(&opts.stock, "stock", 20, "units in the single batch")
	cmd.Flags().IntVar(&opts.requests, "requests", 50, "concurrent one-unit allocations")
	cmd.Flags().IntVar(&opts.maxRetries, "max-retries", 20, "retries per request on concurrency conflict")
	cmd.Flags().StringVar(&opts.mysqlDSN, "mysql-dsn", "", "use the MySQL store instead of memory")
	cmd.Flags().StringVar(&opts.grpcAddr, "grpc-addr", "", "target a running server instead of an in-process bus")

	if err := cmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, opts options, log *zap.Logger) error {
	var (
		allocate allocator
		verify   func(ctx context.Context) error
	)

	if opts.grpcAddr != "" {
		conn, err := grpc.NewClient(opts.grpcAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
		if err != nil {
			return err
		}
		defer conn.Close()
		client := handler.NewAllocationServiceClient(conn)

		if _, err := client.AddBatch(ctx, &handler.AddBatchRequest{SKU: opts.sku, Quantity: opts.stock}); err != nil {
			return fmt.Errorf("add batch: %w", err)
		}
		allocate = func(ctx context.Context, cmd domain.Allocate) (bool, error) {
			_, err := client.Allocate(ctx, &handler.AllocateRequest{OrderID: cmd.OrderID, SKU: cmd.SKU, Quantity: cmd.Quantity})
			switch status.Code(err) {
			case codes.Aborted:
				return true, err
			case codes.FailedPrecondition:
				return false, domain.NewOutOfStockError(cmd.OrderID, cmd.SKU, cmd.Quantity)
			}
			return false, err
		}
	} else {
		uowFactory, closeStore, err := openStore(ctx, opts, log)
		if err != nil {
			return err
		}
		defer closeStore()

		adapter := storage.NewMemoryAdapter()
		bus := service.NewDefaultMessageBus(uowFactory, service.NewHandlers(adapter, adapter, log), log)
		if _, err := bus.Handle(ctx, domain.CreateBatch{Ref: "batch-" + uuid.NewString(), SKU: opts.sku, Quantity: opts.stock}); err != nil {
			return fmt.Errorf("add batch: %w", err)
		}
		allocate = func(ctx context.Context, cmd domain.Allocate) (bool, error) {
			_, err := bus.Handle(ctx, cmd)
			return domain.IsConcurrencyConflictError(err), err
		}
		verify = func(ctx context.Context) error {
			return report(ctx, uowFactory, opts.sku)
		}
	}

	var counts [failed + 1]atomic.Int32
	var retries atomic.Int32

	var wg sync.WaitGroup
	start := time.Now()

	for i := 0; i < opts.requests; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cmd := domain.Allocate{OrderID: "order-" + uuid.NewString(), SKU: opts.sku, Quantity: 1}
			counts[attempt(ctx, allocate, cmd, opts.maxRetries, &retries, log)].Add(1)
		}()
	}

	wg.Wait()
	elapsed := time.Since(start)

	success := int(counts[allocated].Load())
	expected := min(opts.stock, opts.requests)

	fmt.Println("========== STRESS TEST RESULTS ==========")
	fmt.Printf("SKU:              %s\n", opts.sku)
	fmt.Printf("Initial Stock:    %d\n", opts.stock)
	fmt.Printf("Total Requests:   %d\n", opts.requests)
	fmt.Printf("Allocated:        %d\n", success)
	fmt.Printf("Out of stock:     %d\n", counts[outOfStock].Load())
	fmt.Printf("Retries exhausted:%d\n", counts[exhausted].Load())
	fmt.Printf("Failed:           %d\n", counts[failed].Load())
	fmt.Printf("Conflict retries: %d\n", retries.Load())
	fmt.Printf("Duration:         %v\n", elapsed)
	fmt.Println("==========================================")

	if success > opts.stock {
		return fmt.Errorf("FAIL: over-allocated, %d units allocated from a stock of %d", success, opts.stock)
	}
	if success == expected {
		fmt.Printf("PASS: exactly %d allocations succeeded\n", expected)
	} else {
		fmt.Printf("WARN: expected %d allocations, got %d\n", expected, success)
	}

	if verify != nil {
		return verify(ctx)
	}
	return nil
}

func attempt(ctx context.Context, allocate allocator, cmd domain.Allocate, maxRetries int, retries *atomic.Int32, log *zap.Logger) outcome {
	for i := 0; ; i++ {
		retry, err := allocate(ctx, cmd)
		switch {
		case err == nil:
			return allocated
		case domain.IsOutOfStockError(err):
			return outOfStock
		case !retry:
			log.Warn("allocation failed", zap.String("orderid", cmd.OrderID), zap.Error(err))
			return failed
		case i >= maxRetries:
			return exhausted
		}
		retries.Add(1)
	}
}

func openStore(ctx context.Context, opts options, log *zap.Logger) (port.UnitOfWorkFactory, func(), error) {
	if opts.mysqlDSN == "" {
		return storage.NewMemoryStore().NewUnitOfWork, func() {}, nil
	}

	db, err := storage.OpenMySQL(opts.mysqlDSN)
	if err != nil {
		return nil, nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, nil, err
	}
	store := storage.NewMySQLStore(db)
	if err := store.Migrate(ctx); err != nil {
		db.Close()
		return nil, nil, err
	}
	log.Info("connected to mysql")
	return store.NewUnitOfWork, func() { db.Close() }, nil
}

// report reads every stored product back and checks the batch invariants.
func report(ctx context.Context, uowFactory port.UnitOfWorkFactory, sku string) error {
	uow := uowFactory()
	products, err := uow.Begin(ctx)
	if err != nil {
		return err
	}
	defer uow.Rollback()

	all, err := products.List(ctx)
	if err != nil {
		return err
	}
	for _, p := range all {
		if p.SKU != sku {
			continue
		}
		fmt.Printf("Product %s version=%d available=%d\n", p.SKU, p.Version, p.AvailableQuantity())
		for _, b := range p.Batches() {
			if b.AvailableQuantity() < 0 {
				return fmt.Errorf("FAIL: batch %s has negative availability %d", b.Reference, b.AvailableQuantity())
			}
			fmt.Printf("  batch %s purchased=%d allocated=%d\n", b.Reference, b.PurchasedQuantity(), b.AllocatedQuantity())
		}
		fmt.Println("PASS: no batch over-allocated")
		return nil
	}
	return fmt.Errorf("FAIL: product %s not found", sku)
}
