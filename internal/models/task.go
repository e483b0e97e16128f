package models

// TaskItem is one line of a downstream task.
type TaskItem struct {
	Name     string  `json:"name" binding:"required"`
	Quantity int     `json:"quantity" binding:"required,gt=0"`
	Price    float64 `json:"price"`
}

// TaskRequest is the body sent to the task webhook once an order is
// confirmed. Amounts are plain JSON numbers for the external consumer.
type TaskRequest struct {
	OrderID       string     `json:"orderId"`
	CustomerName  string     `json:"customerName" binding:"required"`
	CustomerPhone string     `json:"customerPhone" binding:"required"`
	Items         []TaskItem `json:"items" binding:"required,min=1,dive"`
	Address       string     `json:"address" binding:"required"`
	Neighborhood  string     `json:"neighborhood"`
	City          string     `json:"city"`
	Phone         string     `json:"phone"`
	Total         float64    `json:"total"`
	PaymentMethod string     `json:"paymentMethod"`
}

// NewTaskRequest builds the task body for a confirmed order.
func NewTaskRequest(o *Order) *TaskRequest {
	items := make([]TaskItem, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, TaskItem{
			Name:     it.Name,
			Quantity: it.Quantity,
			Price:    it.UnitPrice.InexactFloat64(),
		})
	}
	return &TaskRequest{
		OrderID:       o.ID,
		CustomerName:  o.CustomerName,
		CustomerPhone: o.Phone,
		Items:         items,
		Address:       o.DeliveryAddress,
		Neighborhood:  o.DeliveryNeighborhood,
		City:          o.DeliveryCity,
		Phone:         o.Phone,
		Total:         o.Total.InexactFloat64(),
		PaymentMethod: o.PaymentMethod.Label(),
	}
}

// TaskResult is the task webhook's answer.
type TaskResult struct {
	Success bool   `json:"success"`
	TaskID  string `json:"taskId,omitempty"`
	Error   string `json:"error,omitempty"`
}
