package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ovos-raposo/checkout-service/internal/apperrors"
	"github.com/ovos-raposo/checkout-service/internal/clients"
	"github.com/ovos-raposo/checkout-service/internal/config"
	"github.com/ovos-raposo/checkout-service/internal/logging"
	"github.com/ovos-raposo/checkout-service/internal/metrics"
	"github.com/ovos-raposo/checkout-service/internal/models"
	"github.com/ovos-raposo/checkout-service/internal/repository"
	"github.com/ovos-raposo/checkout-service/internal/saga"
)

// Dispatch error codes.
const (
	CodeMinimumAmount        = "MINIMUM_AMOUNT_ERROR"
	CodeCardTokenRequired    = "CARD_TOKEN_REQUIRED"
	CodeInvalidPaymentMethod = "INVALID_PAYMENT_METHOD"
	CodeOrderNotPayable      = "ORDER_NOT_PAYABLE"
	CodePaymentProvider      = "PAYMENT_PROVIDER_ERROR"
)

// Dispatch saga steps.
const (
	StepRecordAttempt  = "record_attempt"
	StepProviderCharge = "provider_charge"
	StepPersistPayment = "persist_payment"
)

const (
	defaultPayerEmail     = "cliente@ovosraposo.com.br"
	defaultPayerFirstName = "Cliente"
	defaultPayerLastName  = "Ovos Raposo"
	statementDescriptor   = "OVOS RAPOSO"
	defaultRejectMessage  = "Pagamento não aprovado"
)

var rejectReasons = map[string]string{
	"cc_rejected_insufficient_amount":      "Saldo insuficiente no cartão",
	"cc_rejected_bad_filled_security_code": "Código de segurança inválido",
	"cc_rejected_bad_filled_date":          "Data de validade inválida",
	"cc_rejected_bad_filled_other":         "Dados do cartão inválidos",
	"cc_rejected_call_for_authorize":       "Entre em contato com seu banco para autorizar",
	"cc_rejected_card_disabled":            "Cartão desabilitado",
	"cc_rejected_duplicated_payment":       "Pagamento duplicado",
	"cc_rejected_high_risk":                "Pagamento rejeitado por segurança",
}

// RejectMessage turns a provider status_detail into a customer message.
func RejectMessage(statusDetail string) string {
	if msg, ok := rejectReasons[statusDetail]; ok {
		return msg
	}
	return defaultRejectMessage
}

// dispatchPayload is stored with the STARTED saga entry.
type dispatchPayload struct {
	OrderID        string               `json:"order_id"`
	Method         models.PaymentMethod `json:"method"`
	PreviousMethod models.PaymentMethod `json:"previous_method"`
	PreviousStatus models.OrderStatus   `json:"previous_status"`
	IdempotencyKey string               `json:"idempotency_key"`
}

// chargeCheckpoint is stored once the provider accepted the charge.
type chargeCheckpoint struct {
	PaymentID string `json:"payment_id"`
	Status    string `json:"status"`
}

// PaymentService charges pending orders through the payment provider.
type PaymentService struct {
	orders          repository.OrderRepository
	provider        PaymentProvider
	sagas           *saga.Orchestrator
	effects         *orderEffects
	notificationURL string
	clock           func() time.Time
	logger          *logging.Logger
}

// NewPaymentService creates a new payment service.
func NewPaymentService(
	orders repository.OrderRepository,
	provider PaymentProvider,
	sagas *saga.Orchestrator,
	cache repository.OrderCache,
	events EventPublisher,
	notifier Notifier,
	cfg config.MercadoPagoConfig,
	logger *logging.Logger,
) *PaymentService {
	return &PaymentService{
		orders:          orders,
		provider:        provider,
		sagas:           sagas,
		effects:         newOrderEffects(cache, events, notifier, logger),
		notificationURL: cfg.NotificationURL,
		clock:           time.Now,
		logger:          logger,
	}
}

// Dispatch charges an order with PIX or a tokenized card.
func (s *PaymentService) Dispatch(ctx context.Context, caller *models.Caller, req *models.DispatchRequest) (*models.DispatchResult, error) {
	order, err := s.orders.GetByID(ctx, req.OrderID)
	if err != nil {
		return nil, err
	}
	if order.UserID != caller.UserID {
		return nil, apperrors.ErrForbidden
	}
	if order.Status != models.OrderStatusPendingPayment {
		return nil, notPayable()
	}

	method := req.PaymentMethod
	if !method.IsOnline() {
		return nil, apperrors.NewCodedError(http.StatusBadRequest, CodeInvalidPaymentMethod, "Método de pagamento não reconhecido")
	}

	paymentType := models.PaymentTypePix
	if method.IsCard() {
		paymentType = models.PaymentTypeCard
		if BelowCardMinimum(order.Total) {
			metrics.PaymentDispatches.WithLabelValues(string(paymentType), "below_minimum").Inc()
			return nil, &apperrors.CodedError{
				Status:  http.StatusBadRequest,
				Code:    CodeMinimumAmount,
				Message: fmt.Sprintf("O valor mínimo para pagamento com cartão é R$ %s", MinimumCardAmount.StringFixed(2)),
				Details: map[string]interface{}{
					"minimumAmount": MinimumCardAmount.InexactFloat64(),
					"currentAmount": order.Total.InexactFloat64(),
				},
			}
		}
		if strings.TrimSpace(req.Token) == "" {
			return nil, apperrors.NewCodedError(http.StatusBadRequest, CodeCardTokenRequired, "Token do cartão é obrigatório")
		}
	}

	key := fmt.Sprintf("%s-%d", order.ID, s.clock().UnixMilli())
	payload, _ := json.Marshal(dispatchPayload{
		OrderID:        order.ID,
		Method:         method,
		PreviousMethod: order.PaymentMethod,
		PreviousStatus: order.Status,
		IdempotencyKey: key,
	})

	s.logger.Info("Dispatching payment", logging.Fields{
		"order_id":       order.ID,
		"payment_method": method,
		"amount":         order.Total.StringFixed(2),
	})

	var (
		previousMethod = order.PaymentMethod
		payment        *clients.Payment
	)

	steps := []saga.Step{
		saga.FuncStep{
			StepName: StepRecordAttempt,
			ExecuteFn: func(ctx context.Context) error {
				prev, err := s.orders.BeginAttempt(ctx, order.ID, method)
				if errors.Is(err, repository.ErrNotPayable) {
					return notPayable()
				}
				if err != nil {
					return err
				}
				previousMethod = prev
				return nil
			},
			CompensateFn: func(ctx context.Context) error {
				return s.orders.RevertAttempt(ctx, order.ID, previousMethod, order.Status)
			},
		},
		saga.FuncStep{
			StepName: StepProviderCharge,
			ExecuteFn: func(ctx context.Context) error {
				p, err := s.provider.CreatePayment(ctx, s.buildPaymentRequest(order, caller, req), key)
				if err != nil {
					return &apperrors.CodedError{
						Status:  http.StatusInternalServerError,
						Code:    CodePaymentProvider,
						Message: "Erro ao processar pagamento. Tente novamente.",
						Err:     err,
					}
				}
				payment = p
				return nil
			},
			CheckpointFn: func() string {
				data, _ := json.Marshal(chargeCheckpoint{PaymentID: payment.IDString(), Status: payment.Status})
				return string(data)
			},
		},
		saga.FuncStep{
			StepName: StepPersistPayment,
			ExecuteFn: func(ctx context.Context) error {
				return s.persistPayment(ctx, order, paymentType, payment)
			},
		},
	}

	err = s.sagas.Run(ctx, saga.Saga{
		ID:      uuid.NewString(),
		OrderID: order.ID,
		Payload: string(payload),
		Steps:   steps,
		Pivot:   StepProviderCharge,
	})
	var incomplete *saga.IncompleteError
	if errors.As(err, &incomplete) {
		// the charge exists at the provider; the webhook or the next recovery
		// pass settles the unfinished saga
		s.logger.Warn("Payment charged but not stored, left for recovery", logging.Fields{
			"order_id":   order.ID,
			"payment_id": payment.IDString(),
			"step":       incomplete.Step,
			"error":      incomplete.Err.Error(),
		})
		err = nil
	}
	if err != nil {
		metrics.PaymentDispatches.WithLabelValues(string(paymentType), "error").Inc()
		if _, ok := apperrors.AsCoded(err); ok {
			return nil, err
		}
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, err
		}
		return nil, &apperrors.CodedError{
			Status:  http.StatusInternalServerError,
			Code:    CodePaymentProvider,
			Message: "Erro ao processar pagamento. Tente novamente.",
			Err:     err,
		}
	}

	result := s.buildResult(order, paymentType, payment)
	metrics.PaymentDispatches.WithLabelValues(string(paymentType), payment.Status).Inc()

	s.logger.Info("Payment dispatched", logging.Fields{
		"order_id":      order.ID,
		"payment_id":    result.PaymentID,
		"status":        payment.Status,
		"status_detail": payment.StatusDetail,
	})
	return result, nil
}

func (s *PaymentService) persistPayment(ctx context.Context, order *models.Order, paymentType models.PaymentType, payment *clients.Payment) error {
	details := repository.PaymentDetails{PaymentID: payment.IDString()}
	if paymentType == models.PaymentTypePix {
		details.QRCode = payment.PointOfInteraction.TransactionData.QRCode
		details.QRCodeBase64 = payment.PointOfInteraction.TransactionData.QRCodeBase64
	}
	if err := s.orders.SetPaymentDetails(ctx, order.ID, details); err != nil {
		return fmt.Errorf("store payment details: %w", err)
	}

	if paymentType != models.PaymentTypeCard || payment.Status != clients.PaymentStatusApproved {
		return nil
	}

	res, err := s.orders.Transition(ctx, order.ID, models.OrderStatusPendingPayment, models.OrderStatusNew, details.PaymentID)
	if err != nil {
		return fmt.Errorf("confirm order: %w", err)
	}
	if !res.Applied {
		return nil
	}

	order.Status = models.OrderStatusNew
	order.PaymentID = &details.PaymentID
	s.effects.statusChanged(ctx, order, models.OrderStatusPendingPayment)
	if res.Notify {
		s.effects.notify(ctx, order)
	}
	return nil
}

func (s *PaymentService) buildPaymentRequest(order *models.Order, caller *models.Caller, req *models.DispatchRequest) *clients.PaymentRequest {
	email := strings.TrimSpace(req.PayerEmail)
	if email == "" {
		email = caller.Email
	}
	if email == "" {
		email = defaultPayerEmail
	}

	first, last := splitName(order.CustomerName)
	pr := &clients.PaymentRequest{
		TransactionAmount: order.Total.InexactFloat64(),
		Description:       fmt.Sprintf("Pedido #%s - Ovos Raposo", order.ID),
		PaymentMethodID:   "pix",
		Payer: clients.Payer{
			Email:     email,
			FirstName: first,
			LastName:  last,
		},
		NotificationURL:   s.notificationURL,
		ExternalReference: order.ID,
	}

	if req.PaymentMethod.IsCard() {
		idType := strings.ToUpper(strings.TrimSpace(req.IdentificationType))
		if idType == "" {
			idType = "CPF"
		}
		pr.Token = req.Token
		pr.Installments = 1
		pr.PaymentMethodID = req.CardToken.PaymentMethodID
		pr.IssuerID = req.IssuerID
		pr.Payer.Identification = &clients.Identification{
			Type:   idType,
			Number: DigitsOnly(req.IdentificationNumber),
		}
		pr.StatementDescriptor = statementDescriptor
	}
	return pr
}

func (s *PaymentService) buildResult(order *models.Order, paymentType models.PaymentType, payment *clients.Payment) *models.DispatchResult {
	result := &models.DispatchResult{
		PaymentType:  paymentType,
		OrderID:      order.ID,
		PaymentID:    payment.IDString(),
		Status:       payment.Status,
		StatusDetail: payment.StatusDetail,
		OrderStatus:  order.Status,
		Amount:       order.Total,
	}

	if paymentType == models.PaymentTypePix {
		data := payment.PointOfInteraction.TransactionData
		result.QRCode = data.QRCode
		result.QRCodeBase64 = data.QRCodeBase64
		result.TicketURL = data.TicketURL
		return result
	}

	switch payment.Status {
	case clients.PaymentStatusApproved:
		result.Approved = true
		result.OrderStatus = models.OrderStatusNew
		result.Message = "Pagamento aprovado"
	case clients.PaymentStatusRejected:
		result.Message = RejectMessage(payment.StatusDetail)
	default:
		result.Message = "Pagamento em processamento"
	}
	return result
}

func notPayable() error {
	return apperrors.NewCodedError(http.StatusBadRequest, CodeOrderNotPayable, "Pedido não está aguardando pagamento")
}

func splitName(full string) (string, string) {
	fields := strings.Fields(full)
	switch len(fields) {
	case 0:
		return defaultPayerFirstName, defaultPayerLastName
	case 1:
		return fields[0], defaultPayerLastName
	}
	return fields[0], strings.Join(fields[1:], " ")
}
