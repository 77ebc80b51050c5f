package cli

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/turtacn/inferserve/internal/config"
	"github.com/turtacn/inferserve/internal/gateway"
	"github.com/turtacn/inferserve/internal/httpapi"
	"github.com/turtacn/inferserve/internal/infra/sqlite"
	"github.com/turtacn/inferserve/internal/logging"
	"github.com/turtacn/inferserve/internal/supervisor"
)

var (
	serveHost string
	servePort int
)

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", "", "Host to listen on (overrides config)")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Port to listen on (overrides config)")
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the inference gateway's REST API server",
	RunE:  runServe,
}

// httpDispatch adapts a *gateway.Gateway and its bound *http.Server into a
// single supervisor.Dispatch: Start launches both, Stop drains both, the
// HTTP listener first so in-flight requests finish against a live gateway.
type httpDispatch struct {
	gw  *gateway.Gateway
	srv *http.Server
}

func (d *httpDispatch) Start(ctx context.Context) error {
	if err := d.gw.Start(ctx); err != nil {
		return err
	}
	go func() {
		if err := d.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fmt.Println("http server error:", err)
		}
	}()
	return nil
}

func (d *httpDispatch) Stop() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = d.srv.Shutdown(shutdownCtx)
	d.gw.Stop()
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if serveHost != "" {
		cfg.Server.Host = serveHost
	}
	if servePort > 0 {
		cfg.Server.Port = servePort
	}

	log, err := logging.New(cfg.Logging)
	if err != nil {
		return err
	}
	defer log.Sync() //nolint:errcheck

	var db *sqlite.DB
	if cfg.Storage.CachePath != "" {
		db, err = sqlite.Open(cfg.Storage.CachePath)
		if err != nil {
			return err
		}
		defer db.Close()
	}

	gw := gateway.New(cfg, db, log)

	apiSrv := httpapi.NewServer(gw)
	if cfg.Monitoring.MetricsEnabled {
		apiSrv.EnableMetrics()
	}

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	httpSrv := &http.Server{
		Addr:    addr,
		Handler: apiSrv.Handler(),
	}

	sup := supervisor.New(&httpDispatch{gw: gw, srv: httpSrv}, time.Duration(cfg.Server.RequestTimeoutSec)*time.Second, log)

	log.Infow("starting inference gateway", "addr", addr)
	return sup.RunUntilSignal(cmd.Context())
}
