package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/ovos-raposo/checkout-service/internal/clients"
	"github.com/ovos-raposo/checkout-service/internal/logging"
	"github.com/ovos-raposo/checkout-service/internal/models"
)

const clickUpPriorityNormal = 3

// TaskService receives confirmed orders on the task webhook and files them
// in the fulfilment tracker.
type TaskService struct {
	tracker TaskCreator
	logger  *logging.Logger
}

func NewTaskService(tracker TaskCreator, logger *logging.Logger) *TaskService {
	return &TaskService{tracker: tracker, logger: logger}
}

// CreateTask formats req and creates the tracker task.
func (s *TaskService) CreateTask(ctx context.Context, req *models.TaskRequest) (*models.TaskResult, error) {
	if !s.tracker.Configured() {
		return nil, fmt.Errorf("task tracker not configured")
	}

	task := FormatTask(req)
	id, err := s.tracker.CreateTask(ctx, task)
	if err != nil {
		s.logger.Error("Failed to create task", logging.Fields{
			"order_id": req.OrderID,
			"error":    err.Error(),
		})
		return nil, err
	}

	s.logger.Info("Task created", logging.Fields{"order_id": req.OrderID, "task_id": id})
	return &models.TaskResult{Success: true, TaskID: id}, nil
}

// FormatTask renders the tracker task for an order.
func FormatTask(req *models.TaskRequest) *clients.ClickUpTask {
	var b strings.Builder

	fmt.Fprintf(&b, "📦 PEDIDO #%s\n\n", req.OrderID)
	fmt.Fprintf(&b, "👤 Cliente: %s\n", req.CustomerName)
	fmt.Fprintf(&b, "📞 Telefone: %s\n\n", req.CustomerPhone)

	b.WriteString("🛒 ITENS:\n")
	for _, item := range req.Items {
		fmt.Fprintf(&b, "• %dx %s - R$ %.2f\n", item.Quantity, item.Name, item.Price*float64(item.Quantity))
	}

	b.WriteString("\n📍 ENDEREÇO:\n")
	b.WriteString(req.Address + "\n")
	fmt.Fprintf(&b, "%s - %s\n\n", req.Neighborhood, req.City)

	method := req.PaymentMethod
	if method == "" {
		method = "Não informado"
	}
	fmt.Fprintf(&b, "💳 Pagamento: %s\n", method)
	fmt.Fprintf(&b, "💰 Total: R$ %.2f", req.Total)

	return &clients.ClickUpTask{
		Name:        fmt.Sprintf("Pedido-%s-%s", req.CustomerName, req.CustomerPhone),
		Description: b.String(),
		Priority:    clickUpPriorityNormal,
	}
}
