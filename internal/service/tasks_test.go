package service

import (
	"context"
	"errors"
	"testing"

	"github.com/ovos-raposo/checkout-service/internal/clients"
	"github.com/ovos-raposo/checkout-service/internal/logging"
	"github.com/ovos-raposo/checkout-service/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTracker struct {
	configured bool
	err        error
	tasks      []*clients.ClickUpTask
}

func (f *fakeTracker) Configured() bool { return f.configured }

func (f *fakeTracker) CreateTask(_ context.Context, task *clients.ClickUpTask) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.tasks = append(f.tasks, task)
	return "task-1", nil
}

func sampleTask() *models.TaskRequest {
	return &models.TaskRequest{
		OrderID:       "ord-1",
		CustomerName:  "Maria",
		CustomerPhone: "24999990000",
		Items: []models.TaskItem{
			{Name: "Dúzia de ovos", Quantity: 2, Price: 11.95},
		},
		Address:       "Rua do Imperador, 100",
		Neighborhood:  "Centro",
		City:          "Petrópolis",
		Phone:         "24999990000",
		Total:         23.9,
		PaymentMethod: "PIX",
	}
}

func TestFormatTask(t *testing.T) {
	task := FormatTask(sampleTask())

	assert.Equal(t, "Pedido-Maria-24999990000", task.Name)
	assert.Equal(t, 3, task.Priority)
	want := "📦 PEDIDO #ord-1\n\n" +
		"👤 Cliente: Maria\n" +
		"📞 Telefone: 24999990000\n\n" +
		"🛒 ITENS:\n" +
		"• 2x Dúzia de ovos - R$ 23.90\n" +
		"\n📍 ENDEREÇO:\n" +
		"Rua do Imperador, 100\n" +
		"Centro - Petrópolis\n\n" +
		"💳 Pagamento: PIX\n" +
		"💰 Total: R$ 23.90"
	assert.Equal(t, want, task.Description)
}

func TestFormatTask_DefaultPaymentLabel(t *testing.T) {
	req := sampleTask()
	req.PaymentMethod = ""
	assert.Contains(t, FormatTask(req).Description, "💳 Pagamento: Não informado")
}

func TestTaskService_CreateTask(t *testing.T) {
	tracker := &fakeTracker{configured: true}
	svc := NewTaskService(tracker, logging.Nop())

	res, err := svc.CreateTask(context.Background(), sampleTask())
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "task-1", res.TaskID)
	require.Len(t, tracker.tasks, 1)
}

func TestTaskService_CreateTask_Failures(t *testing.T) {
	_, err := NewTaskService(&fakeTracker{}, logging.Nop()).CreateTask(context.Background(), sampleTask())
	assert.Error(t, err)

	tracker := &fakeTracker{configured: true, err: errors.New("clickup down")}
	_, err = NewTaskService(tracker, logging.Nop()).CreateTask(context.Background(), sampleTask())
	assert.EqualError(t, err, "clickup down")
}
