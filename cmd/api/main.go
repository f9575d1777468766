package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Hamdan0407/backend-perfumes-sub000/internal/cart"
	"github.com/Hamdan0407/backend-perfumes-sub000/internal/checkout"
	"github.com/Hamdan0407/backend-perfumes-sub000/internal/config"
	"github.com/Hamdan0407/backend-perfumes-sub000/internal/coupon"
	"github.com/Hamdan0407/backend-perfumes-sub000/internal/database"
	"github.com/Hamdan0407/backend-perfumes-sub000/internal/gateway"
	"github.com/Hamdan0407/backend-perfumes-sub000/internal/httpapi"
	"github.com/Hamdan0407/backend-perfumes-sub000/internal/notify"
	"github.com/Hamdan0407/backend-perfumes-sub000/internal/webhook"
)

const notificationBuffer = 256

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	if err := run(logger); err != nil {
		logger.Fatal("startup failed", zap.Error(err))
	}
}

func run(logger *zap.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	db, err := database.NewConnection(&cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
	defer redisClient.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	producer := notify.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.NotificationTopic, notificationBuffer, logger)
	producer.Start(ctx)

	carts := cart.NewStore(redisClient, cfg.Redis.CartTTL)
	gw := gateway.NewClient(&cfg.Gateway, logger)
	coupons := coupon.NewValidator(defaultCouponRules())

	checkoutSvc := checkout.NewService(db, carts, gw, coupons, producer, &cfg.Checkout, logger)

	processor := webhook.NewProcessor(db, gw, checkoutSvc, logger)
	sweeper := webhook.NewSweeper(db, processor, &cfg.Webhook, logger)
	sweeper.Start(ctx)

	handler := httpapi.NewHandler(checkoutSvc, processor, logger)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      handler.Routes(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-quit:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", zap.Error(err))
	}

	// Stop background loops after the HTTP drain so in-flight requests
	// can still queue notifications.
	cancel()
	producer.WaitClosed()
	sweeper.WaitStopped()

	logger.Info("shutdown complete")
	return nil
}

// defaultCouponRules is the static promotion table. Coupon management
// endpoints are out of scope; rules change with a deploy.
func defaultCouponRules() []coupon.Rule {
	return []coupon.Rule{
		{
			Code:           "WELCOME10",
			Type:           coupon.DiscountPercent,
			Value:          decimal.NewFromInt(10),
			MinOrderAmount: decimal.NewFromInt(50),
			Active:         true,
		},
		{
			Code:           "FLAT5",
			Type:           coupon.DiscountFixed,
			Value:          decimal.NewFromInt(5),
			MinOrderAmount: decimal.NewFromInt(25),
			Active:         true,
		},
	}
}
