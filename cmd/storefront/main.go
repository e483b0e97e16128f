package main

import (
	"fmt"
	"os"
	"time"

	"github.com/ovos-raposo/checkout-service/internal/logging"
	"github.com/spf13/cobra"
)

var Version = "dev"

type globalFlags struct {
	apiURL   string
	token    string
	logLevel string
	timeout  time.Duration
}

func main() {
	var g globalFlags

	rootCmd := &cobra.Command{
		Use:     "storefront",
		Short:   "Ovos Raposo storefront client: cart checkout, card tokenization and order tracking",
		Version: Version,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logging.SetLevel(g.logLevel)
		},
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&g.apiURL, "api", envOr("CHECKOUT_API_URL", "http://localhost:8082"), "Checkout service base URL")
	rootCmd.PersistentFlags().StringVar(&g.token, "token", os.Getenv("STOREFRONT_TOKEN"), "Bearer token of the signed-in buyer")
	rootCmd.PersistentFlags().StringVar(&g.logLevel, "log-level", envOr("LOG_LEVEL", "warn"), "Log level")
	rootCmd.PersistentFlags().DurationVar(&g.timeout, "timeout", 30*time.Second, "HTTP timeout")

	rootCmd.AddCommand(checkoutCmd(&g))
	rootCmd.AddCommand(statusCmd(&g))
	rootCmd.AddCommand(brandCmd(&g))

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newLogger() *logging.Logger {
	return logging.NewWithWriter("storefront", os.Stderr)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
