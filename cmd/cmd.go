package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/anicoll/iotrix-integration/internal/pkg/config"
	"github.com/anicoll/iotrix-integration/internal/pkg/coordinator"
	"github.com/anicoll/iotrix-integration/internal/pkg/database"
	"github.com/anicoll/iotrix-integration/internal/pkg/database/migration"
	"github.com/anicoll/iotrix-integration/internal/pkg/iotrix"
	"github.com/anicoll/iotrix-integration/internal/pkg/model"
	"github.com/anicoll/iotrix-integration/internal/pkg/mqtt"
	"github.com/anicoll/iotrix-integration/internal/pkg/publisher"
	"github.com/anicoll/iotrix-integration/internal/pkg/server"
)

const cleanupSchedule = "0 3 * * *"

// services are the external collaborators of run. Store and Mqtt are nil
// when not configured.
type services struct {
	Fetcher Fetcher
	Store   Store
	Mqtt    MqttPublisher
}

// IotrixCommand polls the configured device, publishes its readings and
// serves the setup wizard until the process is stopped.
func IotrixCommand(ctx *cli.Context) error {
	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer func() {
		_ = logger.Sync() // flushes buffer, if any.
	}()
	zap.ReplaceGlobals(logger)

	svcs, err := connect(ctx.Context, cfg)
	if err != nil {
		return err
	}
	return run(ctx.Context, cfg, svcs, logger)
}

func loadConfig(ctx *cli.Context) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if ctx.IsSet("log-level") {
		cfg.LogLevel = ctx.String("log-level")
	}
	if ctx.IsSet("listen-address") {
		cfg.ServerCfg.ListenAddress = ctx.String("listen-address")
	}
	return cfg, nil
}

func newLogger(level string) (*zap.Logger, error) {
	var err error
	logCfg := zap.NewProductionConfig()

	logCfg.Level, err = zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, err
	}
	logCfg.OutputPaths = []string{"stdout"}
	logCfg.ErrorOutputPaths = []string{"stdout"}
	logCfg.Sampling = nil
	return logCfg.Build(zap.AddCaller(), zap.AddStacktrace(zap.ErrorLevel))
}

// connect builds the optional database and mqtt sinks and the fetcher.
func connect(ctx context.Context, cfg *config.Config) (*services, error) {
	svcs := &services{}

	if cfg.DatabaseCfg.URL != "" {
		if _, err := migration.Migrate(cfg.DatabaseCfg.URL, cfg.DatabaseCfg.MigrationsFolder); err != nil {
			return nil, fmt.Errorf("migrate database: %w", err)
		}
		db, err := database.Connect(ctx, cfg.DatabaseCfg.URL)
		if err != nil {
			return nil, fmt.Errorf("connect database: %w", err)
		}
		svcs.Store = db
	}

	if cfg.MqttCfg.Host != "" {
		mqttSvc := mqtt.New(mqtt.NewClient(cfg.MqttCfg.Host, cfg.MqttCfg.Username, cfg.MqttCfg.Password))
		if err := mqttSvc.Connect(); err != nil {
			return nil, fmt.Errorf("connect mqtt: %w", err)
		}
		svcs.Mqtt = mqttSvc
	}

	fetcherCfg := cfg.IotrixCfg.Fetcher()
	if svcs.Mqtt != nil {
		device := model.NewDevice(cfg.IotrixCfg.DeviceID)
		fetcherCfg.OnQrCode = func(code iotrix.QrCode) {
			if err := svcs.Mqtt.PublishQrCode(device, code); err != nil {
				zap.L().Error("failed to publish qr code", zap.Error(err))
			}
		}
	}
	svcs.Fetcher = iotrix.New(fetcherCfg)
	return svcs, nil
}

func run(ctx context.Context, cfg *config.Config, svcs *services, logger *zap.Logger) error {
	eg, ctx := errgroup.WithContext(ctx)

	pub := publisher.New()
	var cache interface {
		WriteReading(ctx context.Context, r iotrix.Reading) error
		LatestReading(ctx context.Context, deviceID string) (*iotrix.Reading, error)
	} = coordinator.NewMemoryCache()

	if svcs.Store != nil {
		defer svcs.Store.Close()
		if err := pub.RegisterPublisher("postgres", svcs.Store); err != nil {
			return err
		}
		cache = svcs.Store
		eg.Go(func() error {
			return cronDbCleanup(ctx, svcs.Store)
		})
	}
	if svcs.Mqtt != nil {
		defer svcs.Mqtt.Close()
		if err := pub.RegisterPublisher("mqtt", svcs.Mqtt); err != nil {
			return err
		}
	}

	coord := coordinator.New(cache, pub)
	if err := coord.Register(cfg.IotrixCfg.DeviceID, svcs.Fetcher, cfg.IotrixCfg.UpdateInterval); err != nil {
		return err
	}
	eg.Go(func() error {
		return coord.Run(ctx)
	})

	wizard := server.New(server.Config{
		Qr: cfg.IotrixCfg.Qr(),
		SessionOptions: []iotrix.SessionOption{
			iotrix.WithUserAgent(cfg.IotrixCfg.UserAgent),
			iotrix.WithRequestTimeout(cfg.IotrixCfg.RequestTimeout),
		},
		AdminUsername:     cfg.ServerCfg.AdminUsername,
		AdminPasswordHash: cfg.ServerCfg.AdminPasswordHash,
		History:           svcs.Store,
	}, coord)
	srv := &http.Server{
		Handler:     wizard.RegisterRoutes(),
		Addr:        cfg.ServerCfg.ListenAddress,
		ReadTimeout: 15 * time.Second,
	}

	eg.Go(func() error {
		logger.Info("http server listening", zap.String("address", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	eg.Go(func() error {
		<-ctx.Done()
		logger.Info("context done")
		wizard.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := eg.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func cronDbCleanup(ctx context.Context, db Store) error {
	if err := db.Cleanup(ctx); err != nil {
		return err
	}

	c := cron.New()
	if _, err := c.AddFunc(cleanupSchedule, func() {
		if err := db.Cleanup(ctx); err != nil {
			zap.L().Error("error cleaning up database", zap.Error(err))
			return
		}
		zap.L().Info("cleaned up property history")
	}); err != nil {
		return err
	}

	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}
