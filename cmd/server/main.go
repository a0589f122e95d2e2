package main // Entry point package

import (
    "context"
    "log"
    "time"

    "github.com/labstack/echo/v4"
    "go.uber.org/zap"

    "github.com/rentalworks/machine-booking/internal/booking"
    "github.com/rentalworks/machine-booking/internal/config"
    "github.com/rentalworks/machine-booking/internal/database"
    "github.com/rentalworks/machine-booking/internal/handler"
    "github.com/rentalworks/machine-booking/internal/jobs"
    "github.com/rentalworks/machine-booking/internal/middleware"
    "github.com/rentalworks/machine-booking/internal/payment"
    "github.com/rentalworks/machine-booking/internal/repository"
    "github.com/rentalworks/machine-booking/internal/router"
    "github.com/rentalworks/machine-booking/internal/vendors"
)

func newLogger(env string) *zap.Logger {
    if env == "prod" {
        l, err := zap.NewProduction()
        if err != nil {
            log.Fatalf("logger: %v", err)
        }
        return l
    }
    l, err := zap.NewDevelopment()
    if err != nil {
        log.Fatalf("logger: %v", err)
    }
    return l
}

func main() {
    cfg := config.Load()
    logger := newLogger(cfg.Env)
    defer func() { _ = logger.Sync() }()

    db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
    if err != nil {
        logger.Fatal("database connect failed", zap.Error(err))
    }
    defer func() { _ = db.Close() }()

    loc, err := time.LoadLocation(cfg.TimeZone)
    if err != nil {
        logger.Fatal("invalid TIME_ZONE", zap.String("zone", cfg.TimeZone), zap.Error(err))
    }

    // Repositories.
    reservations := repository.NewReservationRepo(db)
    machines := repository.NewMachineRepo(db)
    discounts := repository.NewDiscountRepo(db)
    events := repository.NewPaymentEventRepo(db)
    workItems := repository.NewWorkItemRepo(db)
    locker := repository.NewMachineLockRepo(db, 5*time.Second)

    svc := booking.NewService(reservations, locker, machines, discounts, logger, booking.Options{
        HoldWindow:     time.Duration(cfg.HoldWindowMin) * time.Minute,
        LeadTimeDays:   cfg.LeadTimeDays,
        LeadCutoffHour: cfg.LeadCutoffHour,
        Location:       loc,
    })

    kicker := jobs.NewKickPublisher(cfg.AmqpURL, logger)
    defer kicker.Close()

    reconciler := payment.NewReconciler(events, reservations, workItems,
        kicker, logger, cfg.JobMaxAttempts)

    runner := jobs.NewRunner(workItems, reservations,
        &vendors.DevInvoicer{Log: logger}, &vendors.LogMailer{Log: logger},
        logger, cfg.JobBatchSize, time.Duration(cfg.JobSweepSec)*time.Second)

    ctx, cancel := context.WithCancel(context.Background())
    defer cancel()

    go runner.Run(ctx)
    go jobs.StartKickConsumer(cfg.AmqpURL, runner, logger)
    go func() {
        // Hold expiry sweep.  Promotion always wins a race with expiry
        // because both sides are conditional updates.
        ticker := time.NewTicker(time.Duration(cfg.ExpirySweepSec) * time.Second)
        defer ticker.Stop()
        for {
            select {
            case <-ctx.Done():
                return
            case <-ticker.C:
                if _, err := svc.ExpireDue(ctx); err != nil {
                    logger.Error("sweep:error", zap.Error(err))
                }
            }
        }
    }()

    e := echo.New()
    e.HideBanner = true

    limiter := middleware.NewTokenBucket(config.LoadRateLimitConfig(), config.NewRedisClient())

    router.RegisterRoutes(e)
    router.RegisterPublic(e, handler.NewReservationHandler(svc), limiter)
    router.RegisterWebhooks(e, handler.NewWebhookHandler(reconciler, cfg.StripeWebhookSecret, logger))
    router.RegisterOps(e, &handler.OpsHandler{
        Service:       svc,
        Promoter:      reservations,
        WorkItems:     workItems,
        Log:           logger,
        JWTSecret:     cfg.JWTSecret,
        OperatorEmail: cfg.OperatorEmail,
        PasswordHash:  cfg.OperatorPasswordHash,
        AccessTTLMin:  cfg.AccessTTLMin,
    }, cfg.JWTSecret)

    addr := ":" + cfg.Port
    logger.Info("listening", zap.String("addr", addr), zap.String("env", cfg.Env))
    if err := e.Start(addr); err != nil {
        logger.Fatal("server stopped", zap.Error(err))
    }
}
