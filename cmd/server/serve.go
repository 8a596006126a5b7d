package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"aigateway/internal/database"
	"aigateway/internal/router"
	"aigateway/internal/service"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 15 * time.Second

var servePort string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP gateway",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVarP(&servePort, "port", "p", "", "override SERVER_PORT")
}

func runServe(cmd *cobra.Command, args []string) error {
	gin.SetMode(gin.ReleaseMode)

	if err := openDatabase(); err != nil {
		return err
	}
	defer database.Close()

	app, err := router.NewApp(cfg, database.GetDB())
	if err != nil {
		return err
	}

	app.Alerts.Start()
	defer app.Alerts.Stop()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	scheduler := service.NewCatalogScheduler(app.CatalogSync, cfg.CatalogSyncSchedule)
	if err := scheduler.Start(ctx); err != nil {
		return err
	}
	defer scheduler.Stop()

	port := cfg.ServerPort
	if servePort != "" {
		port = servePort
	}
	srv := &http.Server{
		Addr:              "0.0.0.0:" + port,
		Handler:           router.Setup(cfg, app),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Infof("服务器启动在 http://%s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	shutdownErr := srv.Shutdown(shutdownCtx)
	if shutdownErr != nil {
		log.Warnf("http shutdown: %v", shutdownErr)
	}

	// 数据库关闭前等待在途调用写入使用记录并扣费
	settleCtx, cancelSettle := context.WithTimeout(context.Background(), time.Duration(cfg.SettleTimeoutSeconds)*time.Second)
	defer cancelSettle()
	if err := app.Gateway.Drain(settleCtx); err != nil {
		log.Errorf("in-flight calls not settled before exit: %v", err)
		return err
	}
	return shutdownErr
}
