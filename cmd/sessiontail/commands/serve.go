package commands

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/sessiontail/sessiontail/internal/logging"
	"github.com/sessiontail/sessiontail/internal/server"
	"github.com/sessiontail/sessiontail/internal/session"
)

var (
	servePort int
	serveCORS bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Expose the conversation model over HTTP",
	Long: `Start a server that exposes assembled session histories and streams
live updates over SSE. Session files start being watched when a client
subscribes and stop shortly after the last client disconnects.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "Port to listen on (default from config)")
	serveCmd.Flags().BoolVar(&serveCORS, "cors", true, "Enable CORS")
}

func runServe(cmd *cobra.Command, args []string) error {
	workDir, err := GetWorkDir()
	if err != nil {
		return err
	}

	cfg, err := loadConfig(workDir)
	if err != nil {
		return err
	}

	svc := session.NewService(cfg)
	defer svc.Close()

	serverConfig := server.DefaultConfig()
	serverConfig.Port = cfg.Port
	if servePort != 0 {
		serverConfig.Port = servePort
	}
	serverConfig.Directory = workDir
	serverConfig.EnableCORS = serveCORS

	srv := server.New(serverConfig, svc)

	go func() {
		logging.Info().
			Int("port", serverConfig.Port).
			Str("directory", workDir).
			Msg("server listening")
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			logging.Error().Err(err).Msg("server error")
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logging.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Error().Err(err).Msg("server shutdown error")
	}

	return nil
}
