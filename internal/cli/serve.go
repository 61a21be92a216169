package cli

import (
	"context"
	"fmt"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/fermata-app/fermata/internal/blob"
	"github.com/fermata-app/fermata/internal/config"
	"github.com/fermata-app/fermata/internal/hooks"
	"github.com/fermata-app/fermata/internal/logging"
	"github.com/fermata-app/fermata/internal/model"
	"github.com/fermata-app/fermata/internal/server"
	"github.com/fermata-app/fermata/internal/store"
)

func newServeCmd() *cobra.Command {
	var (
		port int
		bind string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the Fermata server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			// Dev convenience: API keys usually live in a .env next to the
			// checkout. Missing files are fine.
			_ = godotenv.Load()

			cfg, err := config.Load(paths.Config)
			if err != nil {
				return err
			}
			if port != 0 {
				cfg.Server.Port = port
			}
			if bind != "" {
				cfg.Server.Bind = bind
			}

			issues := config.Validate(&cfg)
			if len(issues) > 0 {
				for _, issue := range issues {
					log.Error().Str("path", issue.Path).Msg(issue.Message)
				}
				return fmt.Errorf("config validation failed with %d issue(s)", len(issues))
			}

			if err := paths.EnsureDirs(); err != nil {
				return err
			}

			// The server gets the console/file split; one-shot commands keep
			// the plain console logger from the root command.
			logFile := cfg.Logging.File
			if logFile == "" {
				logFile = filepath.Join(paths.Logs, "fermata.log")
			}
			consoleLevel := cfg.Logging.ConsoleLevel
			if logLevel != "" {
				consoleLevel = logLevel
			}
			srvLog, closeLog, err := logging.Open(logging.Options{
				Level:        cfg.Logging.Level,
				File:         logFile,
				ConsoleLevel: consoleLevel,
				ConsoleStyle: cfg.Logging.ConsoleStyle,
			})
			if err != nil {
				return fmt.Errorf("opening log file: %w", err)
			}
			defer closeLog()
			log = srvLog

			st, err := store.New(cfg.Store, paths.Data, log)
			if err != nil {
				return fmt.Errorf("opening session store: %w", err)
			}
			defer st.Close()

			blobs, err := openBlobStore(cfg, log)
			if err != nil {
				return err
			}

			registry, err := model.NewRegistryFromConfig(cfg.Producer, log)
			if err != nil {
				return err
			}
			producer, err := registry.Resolve(cfg.Producer.Backend)
			if err != nil {
				return err
			}
			log.Info().Strs("backends", registry.List()).Str("active", producer.Name()).Msg("producers ready")

			hookMgr := hooks.NewManager(log)

			if !server.ResolveAuth(cfg.Server.Auth).Enabled() {
				log.Warn().Msg("no auth token or users configured — the API is open")
			}

			srv := server.New(cfg, st, blobs, producer, log, server.WithHooks(hookMgr))

			// Block until SIGINT/SIGTERM
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return srv.Start(ctx)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "override server port")
	cmd.Flags().StringVar(&bind, "bind", "", "override bind mode (auto, lan, loopback, custom)")

	return cmd
}

// openBlobStore builds the upload store, generating and persisting a signing
// key when the config does not provide one.
func openBlobStore(cfg config.Config, log *logging.Logger) (*blob.Store, error) {
	key := cfg.Server.Upload.SigningKey
	if key == "" {
		var err error
		key, err = blob.LoadOrCreateKey(paths.SigningKeyFile())
		if err != nil {
			return nil, fmt.Errorf("upload signing key: %w", err)
		}
	}

	dir := cfg.Server.Upload.Dir
	if dir == "" {
		dir = paths.Uploads
	}
	baseURL := cfg.Server.BaseURL
	if baseURL == "" {
		baseURL = fmt.Sprintf("http://localhost:%d", cfg.Server.Port)
	}

	return blob.New(blob.Config{
		Dir:         dir,
		BaseURL:     baseURL,
		SigningKey:  key,
		UploadTTL:   time.Duration(cfg.Server.Upload.UploadTTLMinutes) * time.Minute,
		DownloadTTL: time.Duration(cfg.Server.Upload.DownloadTTLMinutes) * time.Minute,
	}, log)
}
