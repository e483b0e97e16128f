package service

import (
	"errors"
	"reflect"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/go-playground/validator/v10"
	"github.com/ovos-raposo/checkout-service/internal/apperrors"
	"github.com/ovos-raposo/checkout-service/internal/models"
)

// ServicedCities are the delivery cities, compared case-insensitively.
var ServicedCities = []string{"petrópolis", "petropolis"}

var lettersPattern = regexp.MustCompile(`^[a-zA-ZÀ-ÿ\s]+$`)

// now is replaced in tests.
var now = time.Now

var validate = newValidator()

type checkoutForm struct {
	Name          string `json:"name" validate:"min=2,max=100"`
	Phone         string `json:"phone" validate:"digits_between=10:11"`
	Address       string `json:"address" validate:"min=5,max=200"`
	City          string `json:"city" validate:"min=2,max=100,serviced_city"`
	Neighborhood  string `json:"neighborhood" validate:"min=2,max=100"`
	PaymentMethod string `json:"payment_method" validate:"required,oneof=pix debit_card credit_card cash dinheiro"`
}

type cardForm struct {
	Number               string `json:"card_number" validate:"digits_between=13:19"`
	HolderName           string `json:"cardholder_name" validate:"min=3,max=100,letters"`
	ExpirationMonth      string `json:"expiration_month" validate:"oneof=01 02 03 04 05 06 07 08 09 10 11 12"`
	ExpirationYear       string `json:"expiration_year" validate:"expiry_year"`
	SecurityCode         string `json:"security_code" validate:"digits_between=3:4"`
	IdentificationType   string `json:"identification_type" validate:"required,oneof=CPF CNPJ"`
	IdentificationNumber string `json:"identification_number"`
}

// messages maps "field.tag" or "field" to the text shown to the customer.
var messages = map[string]string{
	"name.min":                "Nome deve ter pelo menos 2 caracteres",
	"name.max":                "Nome muito longo",
	"phone":                   "Telefone deve ter 10 ou 11 dígitos",
	"address.min":             "Endereço deve ter pelo menos 5 caracteres",
	"address.max":             "Endereço muito longo",
	"city.min":                "Cidade é obrigatória",
	"city.max":                "Nome da cidade muito longo",
	"city.serviced_city":      "Desculpe, no momento entregamos apenas em Petrópolis.",
	"neighborhood.min":        "Bairro deve ter pelo menos 2 caracteres",
	"neighborhood.max":        "Nome do bairro muito longo",
	"payment_method.required": "Selecione uma forma de pagamento",
	"payment_method":          "Forma de pagamento inválida",
	"card_number":             "Número de cartão inválido",
	"cardholder_name.min":     "Nome deve ter pelo menos 3 caracteres",
	"cardholder_name.max":     "Nome muito longo",
	"cardholder_name.letters": "Nome deve conter apenas letras",
	"expiration_month":        "Mês inválido",
	"expiration_year":         "Ano inválido",
	"security_code":           "CVV deve ter 3 ou 4 dígitos",
	"identification_type":     "Selecione o tipo de documento",
	"identification_number":   "CPF deve ter 11 dígitos ou CNPJ 14 dígitos",
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		return strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
	})
	_ = v.RegisterValidation("digits_between", digitsBetween)
	_ = v.RegisterValidation("letters", func(fl validator.FieldLevel) bool {
		return lettersPattern.MatchString(fl.Field().String())
	})
	_ = v.RegisterValidation("serviced_city", func(fl validator.FieldLevel) bool {
		return IsServicedCity(fl.Field().String())
	})
	_ = v.RegisterValidation("expiry_year", func(fl validator.FieldLevel) bool {
		year, err := strconv.Atoi(fl.Field().String())
		if err != nil {
			return false
		}
		current := now().Year()
		return year >= current && year <= current+20
	})
	v.RegisterStructValidation(identificationMatchesType, cardForm{})
	return v
}

// digitsBetween checks a digits-only string whose length lies in the
// "min:max" parameter.
func digitsBetween(fl validator.FieldLevel) bool {
	value := fl.Field().String()
	bounds := strings.SplitN(fl.Param(), ":", 2)
	if len(bounds) != 2 {
		return false
	}
	lo, err1 := strconv.Atoi(bounds[0])
	hi, err2 := strconv.Atoi(bounds[1])
	if err1 != nil || err2 != nil {
		return false
	}
	if len(value) < lo || len(value) > hi {
		return false
	}
	for _, r := range value {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func identificationMatchesType(sl validator.StructLevel) {
	card := sl.Current().Interface().(cardForm)
	n := card.IdentificationNumber
	ok := false
	switch card.IdentificationType {
	case "CPF":
		ok = len(n) == 11
	case "CNPJ":
		ok = len(n) == 14
	default:
		ok = len(n) == 11 || len(n) == 14
	}
	if !ok {
		sl.ReportError(card.IdentificationNumber, "identification_number", "IdentificationNumber", "document_length", "")
	}
}

// IsServicedCity reports whether deliveries reach city.
func IsServicedCity(city string) bool {
	c := strings.ToLower(strings.TrimSpace(city))
	for _, s := range ServicedCities {
		if c == s {
			return true
		}
	}
	return false
}

// DigitsOnly strips every non-digit rune.
func DigitsOnly(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsDigit(r) && r < unicode.MaxASCII {
			return r
		}
		return -1
	}, s)
}

// ValidateCheckout validates and normalises a checkout form. Every failed
// field is reported, in form order. A card form, when present, is checked
// too.
func ValidateCheckout(req *models.CheckoutRequest) (*models.Checkout, error) {
	form := checkoutForm{
		Name:          strings.TrimSpace(req.Name),
		Phone:         DigitsOnly(req.Phone),
		Address:       strings.TrimSpace(req.Address),
		City:          strings.TrimSpace(req.City),
		Neighborhood:  strings.TrimSpace(req.Neighborhood),
		PaymentMethod: strings.ToLower(strings.TrimSpace(req.PaymentMethod)),
	}

	verr := &apperrors.ValidationError{}
	collect(verr, validate.Struct(form))
	validateItems(verr, req.Items)

	var card *models.CardForm
	if req.Card != nil {
		var err error
		card, err = ValidateCardForm(req.Card)
		if cardErr, ok := apperrors.AsValidation(err); ok {
			verr.Fields = append(verr.Fields, cardErr.Fields...)
		}
	}

	if verr.HasErrors() {
		return nil, verr
	}

	method, _ := models.ParsePaymentMethod(form.PaymentMethod)
	return &models.Checkout{
		Name:          form.Name,
		Phone:         form.Phone,
		Address:       form.Address,
		Neighborhood:  form.Neighborhood,
		City:          form.City,
		PaymentMethod: method,
		Notes:         strings.TrimSpace(req.Notes),
		Items:         req.Items,
		Card:          card,
	}, nil
}

// ValidateCardForm validates raw card fields and returns them normalised:
// number and document without separators, 4-digit year, upper-case
// document type.
func ValidateCardForm(card *models.CardForm) (*models.CardForm, error) {
	year := strings.TrimSpace(card.ExpirationYear)
	if len(year) == 2 {
		year = "20" + year
	}

	form := cardForm{
		Number:               strings.Join(strings.Fields(card.Number), ""),
		HolderName:           strings.TrimSpace(card.HolderName),
		ExpirationMonth:      strings.TrimSpace(card.ExpirationMonth),
		ExpirationYear:       year,
		SecurityCode:         strings.TrimSpace(card.SecurityCode),
		IdentificationType:   strings.ToUpper(strings.TrimSpace(card.IdentificationType)),
		IdentificationNumber: DigitsOnly(card.IdentificationNumber),
	}

	verr := &apperrors.ValidationError{}
	collect(verr, validate.Struct(form))
	if verr.HasErrors() {
		return nil, verr
	}

	return &models.CardForm{
		Number:               form.Number,
		HolderName:           form.HolderName,
		ExpirationMonth:      form.ExpirationMonth,
		ExpirationYear:       form.ExpirationYear,
		SecurityCode:         form.SecurityCode,
		IdentificationType:   form.IdentificationType,
		IdentificationNumber: form.IdentificationNumber,
	}, nil
}

func validateItems(verr *apperrors.ValidationError, items []models.OrderItem) {
	for _, item := range items {
		if strings.TrimSpace(item.Name) == "" || item.Quantity <= 0 || item.UnitPrice.IsNegative() {
			verr.Add("items", "Item do carrinho inválido")
			return
		}
		// prices are in centavos; anything finer could not be charged as stored
		if item.UnitPrice.Exponent() < -2 && !item.UnitPrice.Equal(item.UnitPrice.Round(2)) {
			verr.Add("items", "Preço do item inválido")
			return
		}
	}
}

func collect(verr *apperrors.ValidationError, err error) {
	if err == nil {
		return
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		verr.Add("form", err.Error())
		return
	}
	for _, fe := range fieldErrs {
		verr.Add(fe.Field(), messageFor(fe.Field(), fe.Tag()))
	}
}

func messageFor(field, tag string) string {
	if msg, ok := messages[field+"."+tag]; ok {
		return msg
	}
	if msg, ok := messages[field]; ok {
		return msg
	}
	return "Campo inválido"
}
