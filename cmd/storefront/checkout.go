package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"

	"github.com/ovos-raposo/checkout-service/internal/apperrors"
	"github.com/ovos-raposo/checkout-service/internal/cart"
	"github.com/ovos-raposo/checkout-service/internal/models"
	"github.com/ovos-raposo/checkout-service/internal/storefront"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

type checkoutFlags struct {
	items      []string
	form       models.CheckoutRequest
	card       models.CardForm
	payerEmail string
	mpURL      string
	publicKey  string
	wait       bool
}

func checkoutCmd(g *globalFlags) *cobra.Command {
	var f checkoutFlags

	cmd := &cobra.Command{
		Use:   "checkout",
		Short: "Place an order for the given items and pay it",
		Long: `Builds a cart from --item flags, validates the delivery form, tokenizes
the card locally when paying by card and submits the order.

Items are given as id:name:price:quantity, for example
  --item "1:Dúzia de ovos:11.95:2"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheckout(cmd.Context(), g, &f)
		},
	}

	fl := cmd.Flags()
	fl.StringArrayVar(&f.items, "item", nil, "Cart line as id:name:price:quantity (repeatable)")
	fl.StringVar(&f.form.Name, "name", "", "Customer name")
	fl.StringVar(&f.form.Phone, "phone", "", "Customer phone with area code")
	fl.StringVar(&f.form.Address, "address", "", "Delivery address")
	fl.StringVar(&f.form.Neighborhood, "neighborhood", "", "Delivery neighborhood")
	fl.StringVar(&f.form.City, "city", "Petrópolis", "Delivery city")
	fl.StringVar(&f.form.PaymentMethod, "payment", "pix", "pix, debit_card, credit_card or dinheiro")
	fl.StringVar(&f.form.Notes, "notes", "", "Delivery notes")
	fl.StringVar(&f.payerEmail, "email", "", "Payer email sent to the payment provider")

	fl.StringVar(&f.card.Number, "card-number", "", "Card number")
	fl.StringVar(&f.card.HolderName, "card-holder", "", "Name printed on the card")
	fl.StringVar(&f.card.ExpirationMonth, "card-month", "", "Expiration month (MM)")
	fl.StringVar(&f.card.ExpirationYear, "card-year", "", "Expiration year (YY or YYYY)")
	fl.StringVar(&f.card.SecurityCode, "card-cvv", "", "Security code")
	fl.StringVar(&f.card.IdentificationType, "doc-type", "CPF", "Holder document type (CPF or CNPJ)")
	fl.StringVar(&f.card.IdentificationNumber, "doc-number", "", "Holder document number")

	fl.StringVar(&f.mpURL, "mp-url", envOr("MERCADO_PAGO_BASE_URL", "https://api.mercadopago.com"), "Payment provider base URL")
	fl.StringVar(&f.publicKey, "public-key", os.Getenv("MERCADO_PAGO_PUBLIC_KEY"), "Payment provider public key")
	fl.BoolVar(&f.wait, "wait", true, "Wait for PIX payment confirmation")

	_ = cmd.MarkFlagRequired("item")
	return cmd
}

func runCheckout(ctx context.Context, g *globalFlags, f *checkoutFlags) error {
	logger := newLogger()

	c := cart.New()
	for _, spec := range f.items {
		product, qty, err := parseItem(spec)
		if err != nil {
			return err
		}
		if err := c.Add(product, qty); err != nil {
			return fmt.Errorf("item %q: %w", spec, err)
		}
	}

	api := storefront.NewAPIClient(g.apiURL, g.token, g.timeout, logger)

	var tokenizer storefront.Tokenizer
	if f.publicKey != "" {
		tokenizer = storefront.NewCardTokenizer(f.mpURL, f.publicKey, g.timeout, logger)
	}

	form := f.form
	if f.card.Number != "" {
		card := f.card
		form.Card = &card
	}

	fmt.Printf("Cart: %d item(s), R$ %s\n", c.Count(), c.Total().StringFixed(2))

	out, err := storefront.NewCheckout(c, api, tokenizer, logger).Submit(ctx, &form, f.payerEmail)
	if err != nil {
		if out != nil && out.Order != nil {
			fmt.Printf("Order %s was created but payment failed. Track it with: storefront status %s\n", out.Order.ID, out.Order.ID)
		}
		return describe(err)
	}

	fmt.Printf("Order %s: %s, total R$ %s\n", out.Order.ID, out.Order.Status, out.Order.Total.StringFixed(2))

	p := out.Payment
	switch {
	case p == nil:
		fmt.Println("Pay on delivery. Your order is confirmed.")
		return nil
	case p.PaymentType == models.PaymentTypeCard && p.Approved:
		fmt.Println("Card payment approved.")
		return nil
	case p.PaymentType == models.PaymentTypeCard:
		fmt.Printf("Card payment not approved: %s\n", p.Message)
		return nil
	}

	fmt.Println("Pay with PIX copy-and-paste code:")
	fmt.Println(p.QRCode)
	if p.TicketURL != "" {
		fmt.Printf("Or open %s\n", p.TicketURL)
	}
	if !f.wait {
		return nil
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()
	return watchOrder(ctx, api, out.Order.ID, logger)
}

// parseItem reads "id:name:price:quantity". The name may contain colons.
func parseItem(spec string) (cart.Product, int, error) {
	parts := strings.Split(spec, ":")
	if len(parts) < 4 {
		return cart.Product{}, 0, fmt.Errorf("item %q: want id:name:price:quantity", spec)
	}

	id := strings.TrimSpace(parts[0])
	name := strings.TrimSpace(strings.Join(parts[1:len(parts)-2], ":"))
	price, err := decimal.NewFromString(strings.TrimSpace(parts[len(parts)-2]))
	if err != nil {
		return cart.Product{}, 0, fmt.Errorf("item %q: bad price: %w", spec, err)
	}
	qty, err := strconv.Atoi(strings.TrimSpace(parts[len(parts)-1]))
	if err != nil {
		return cart.Product{}, 0, fmt.Errorf("item %q: bad quantity: %w", spec, err)
	}
	if id == "" || name == "" {
		return cart.Product{}, 0, fmt.Errorf("item %q: id and name are required", spec)
	}
	return cart.Product{ID: id, Name: name, Price: price}, qty, nil
}

// describe turns checkout failures into the message shown to the buyer.
func describe(err error) error {
	if verr, ok := apperrors.AsValidation(err); ok {
		var b strings.Builder
		b.WriteString("please fix the form:")
		for _, fe := range verr.Fields {
			fmt.Fprintf(&b, "\n  %s: %s", fe.Field, fe.Message)
		}
		return errors.New(b.String())
	}

	var rej *storefront.ProviderRejection
	if errors.As(err, &rej) {
		return fmt.Errorf("card rejected: %s", rej.Message)
	}

	var apiErr *storefront.APIError
	if errors.As(err, &apiErr) && apiErr.Retryable() {
		return fmt.Errorf("%s; please try again", apiErr.Message)
	}
	return err
}
