package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"dabubble/cleanup"
	"dabubble/db"
	"dabubble/store"

	"github.com/spf13/cobra"
	jww "github.com/spf13/jwalterweatherman"
)

// Flag variables. Set flags win over the environment.
var (
	port, dbFile, logLevel string
	cfg                    Config
)

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "dabubble",
	Short: "DABubble team chat server",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		cfg = loadConfig()
		flags := cmd.Flags()
		if flags.Changed("port") {
			cfg.Port = port
		}
		if flags.Changed("db") {
			cfg.DBFile = dbFile
		}
		if flags.Changed("log-level") {
			cfg.LogLevel = logLevel
		}
		initLog(cfg.LogLevel)
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP and websocket server with the guest sweeper",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := context.WithCancel(context.Background())
		defer stop()

		srv, err := newServer(ctx, cfg)
		if err != nil {
			return err
		}
		defer srv.Close()

		go srv.sweeper.Run(ctx)

		server := &http.Server{Addr: ":" + cfg.Port, Handler: srv.routes()}
		go func() {
			jww.INFO.Printf("Starting dabubble on port %s", cfg.Port)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				jww.FATAL.Panicf("ListenAndServe error: %v", err)
			}
		}()

		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		jww.INFO.Println("Shutting down dabubble...")

		// Sessions hang off ctx; stopping it closes every socket.
		stop()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			jww.WARN.Printf("dabubble forced shutdown: %v", err)
		}
		return nil
	},
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run one guest cleanup pass and exit",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		conn, err := db.InitDB(cfg.DBFile)
		if err != nil {
			return err
		}
		defer db.CloseDB(conn)

		kv, closePrefs, err := openPrefs(cmd.Context(), cfg.RedisURL, conn)
		if err != nil {
			return err
		}
		defer closePrefs()

		sweeper := cleanup.New(store.New(conn), cfg.Sweep)
		sweeper.Prefs = kv
		report, err := sweeper.Sweep(cmd.Context())
		if err != nil {
			return err
		}
		jww.INFO.Printf("sweep: marked %d, purged %d, failed %d", report.Marked, report.Purged, report.Failed)
		return nil
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations and exit",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		conn, err := db.InitDB(cfg.DBFile)
		if err != nil {
			return err
		}
		db.CloseDB(conn)
		jww.INFO.Printf("database %s is up to date", cfg.DBFile)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&port, "port", "p", "8000", "HTTP port (PORT)")
	rootCmd.PersistentFlags().StringVar(&dbFile, "db", "./dabubble.db", "SQLite database file (DB_FILE)")
	rootCmd.PersistentFlags().StringVarP(&logLevel, "log-level", "v", "info",
		"trace, debug, info, warn, error or off (LOG_LEVEL)")
	rootCmd.AddCommand(serveCmd, sweepCmd, migrateCmd)
}
