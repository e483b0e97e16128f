package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/ovos-raposo/checkout-service/internal/logging"
	"github.com/ovos-raposo/checkout-service/internal/models"
	"github.com/ovos-raposo/checkout-service/internal/storefront"
	"github.com/spf13/cobra"
)

func statusCmd(g *globalFlags) *cobra.Command {
	var watch bool

	cmd := &cobra.Command{
		Use:   "status [order-id]",
		Short: "Show the status of an order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			api := storefront.NewAPIClient(g.apiURL, g.token, g.timeout, logger)

			if watch {
				ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
				defer stop()
				return watchOrder(ctx, api, args[0], logger)
			}

			status, err := api.OrderStatus(cmd.Context(), args[0])
			if err != nil {
				return describe(err)
			}
			fmt.Printf("Order %s: %s\n", args[0], status)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "Poll until the payment is confirmed or fails")
	return cmd
}

func brandCmd(g *globalFlags) *cobra.Command {
	var mpURL, publicKey string

	cmd := &cobra.Command{
		Use:   "brand [card-number]",
		Short: "Detect the card brand from the first six digits",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tok := storefront.NewCardTokenizer(mpURL, publicKey, g.timeout, newLogger())
			brand, err := tok.DetectBrand(cmd.Context(), args[0])
			if err != nil {
				return describe(err)
			}
			fmt.Printf("%s (%s)\n", brand.Name, brand.PaymentTypeID)
			return nil
		},
	}

	cmd.Flags().StringVar(&mpURL, "mp-url", envOr("MERCADO_PAGO_BASE_URL", "https://api.mercadopago.com"), "Payment provider base URL")
	cmd.Flags().StringVar(&publicKey, "public-key", os.Getenv("MERCADO_PAGO_PUBLIC_KEY"), "Payment provider public key")
	return cmd
}

// watchOrder polls an order until it is paid, fails or ctx ends. Pressing
// enter forces an immediate check.
func watchOrder(ctx context.Context, api *storefront.APIClient, orderID string, logger *logging.Logger) error {
	p := storefront.NewPoller(api, orderID, logger)
	p.OnApproved = func(id string) {
		fmt.Printf("Payment confirmed. Order %s is on its way to the expedition.\n", id)
	}
	p.OnFailed = func(id string, status models.OrderStatus) {
		fmt.Printf("Payment for order %s failed (%s). Please place a new order.\n", id, status)
	}

	go func() {
		buf := make([]byte, 1)
		for {
			if _, err := os.Stdin.Read(buf); err != nil {
				return
			}
			if buf[0] == '\n' {
				p.CheckNow()
			}
		}
	}()

	fmt.Println("Waiting for payment confirmation (press enter to check now, Ctrl+C to stop)...")
	_, err := p.Run(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
