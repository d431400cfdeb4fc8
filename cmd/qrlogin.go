package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/anicoll/iotrix-integration/internal/pkg/config"
	"github.com/anicoll/iotrix-integration/internal/pkg/iotrix"
	"github.com/anicoll/iotrix-integration/pkg/hasher"
)

// QrLoginCommand runs a QR login in the terminal and prints the token.
func QrLoginCommand(ctx *cli.Context) error {
	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer func() {
		_ = logger.Sync()
	}()
	zap.ReplaceGlobals(logger)

	return qrLogin(ctx.Context, cfg.IotrixCfg, ctx.String("image-out"), ctx.App.Writer)
}

func qrLogin(ctx context.Context, cfg *config.IotrixConfig, imageOut string, out io.Writer) error {
	qrCfg := cfg.Qr()
	if !qrCfg.Configured() {
		return fmt.Errorf("%w: qr code, status and token urls are required", iotrix.ErrConfiguration)
	}

	session := iotrix.NewSession(
		iotrix.WithUserAgent(cfg.UserAgent),
		iotrix.WithRequestTimeout(cfg.RequestTimeout),
	)
	defer session.Close()

	logger := zap.L()
	qr := iotrix.NewQrSession(qrCfg, session, iotrix.WithQrCodeHandler(func(code iotrix.QrCode) {
		logger.Info("scan the qr code with wechat", zap.String("qrcode_id", code.ID), zap.String("image_url", code.ImageURL))
		if imageOut == "" {
			return
		}
		img, err := code.Image()
		if err != nil || len(img) == 0 {
			logger.Warn("no inline qr image to write", zap.Error(err))
			return
		}
		if err := os.WriteFile(imageOut, img, 0o600); err != nil {
			logger.Error("failed to write qr image", zap.String("path", imageOut), zap.Error(err))
			return
		}
		logger.Info("wrote qr image", zap.String("path", imageOut))
	}))

	token, err := qr.RunToCompletion(ctx, cfg.QrTimeout)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, token)
	return err
}

// HashPasswordCommand prints the bcrypt hash for SERVER_ADMIN_PASSWORD_HASH.
func HashPasswordCommand(ctx *cli.Context) error {
	password := ctx.String("password")
	if password == "" {
		return cli.Exit("password is required", 1)
	}
	hash, err := hasher.HashPassword(password)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(ctx.App.Writer, hash)
	return err
}
