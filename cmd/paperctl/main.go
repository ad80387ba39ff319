// Package main ist das Kommandozeilenwerkzeug für Import, Suche und Wartung.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"paper-alerts/app"
	"paper-alerts/config"
)

var (
	humanOutput bool
	verbose     bool
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "paperctl",
	Short: "Import und Suche für Scholar-Alert-Paper",
	Long: `paperctl liest Google-Scholar-Alerts ein, pflegt den Paper-Bestand
und durchsucht ihn. Ausgaben sind JSON, mit --human lesbarer Text.

Die Konfiguration kommt aus denselben Umgebungsvariablen (bzw. .env) wie der Server.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&humanOutput, "human", false, "Use human-readable output instead of JSON")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Development logging at debug level")
}

func newLogger() (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// openApp lädt Konfiguration und baut die Dienste auf. memory nutzt den In-Memory-Speicher.
func openApp(ctx context.Context, memory bool) (*app.App, error) {
	logger, err := newLogger()
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return app.New(ctx, cfg, logger, app.Options{Memory: memory, Migrate: !memory})
}
