package service

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/ovos-raposo/checkout-service/internal/clients"
	"github.com/ovos-raposo/checkout-service/internal/config"
	"github.com/ovos-raposo/checkout-service/internal/logging"
	"github.com/ovos-raposo/checkout-service/internal/models"
	"github.com/ovos-raposo/checkout-service/internal/repository"
	"github.com/ovos-raposo/checkout-service/internal/saga"
	"github.com/ovos-raposo/checkout-service/internal/sagalog/sqlite"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type fakeProvider struct {
	mu       sync.Mutex
	createFn func(ctx context.Context, req *clients.PaymentRequest, key string) (*clients.Payment, error)
	getFn    func(ctx context.Context, id string) (*clients.Payment, error)
	requests []*clients.PaymentRequest
	keys     []string
}

func (f *fakeProvider) CreatePayment(ctx context.Context, req *clients.PaymentRequest, key string) (*clients.Payment, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.keys = append(f.keys, key)
	f.mu.Unlock()
	return f.createFn(ctx, req, key)
}

func (f *fakeProvider) GetPayment(ctx context.Context, id string) (*clients.Payment, error) {
	return f.getFn(ctx, id)
}

func (f *fakeProvider) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

type fakeNotifier struct {
	mu    sync.Mutex
	tasks []*models.TaskRequest
	err   error
}

func (f *fakeNotifier) NotifyOrderConfirmed(_ context.Context, task *models.TaskRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tasks = append(f.tasks, task)
	return f.err
}

func (f *fakeNotifier) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.tasks)
}

type fakePublisher struct {
	mu      sync.Mutex
	created []string
	changes []string
}

func (f *fakePublisher) PublishOrderCreated(_ context.Context, order *models.Order) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, order.ID)
	return nil
}

func (f *fakePublisher) PublishOrderStatusChanged(_ context.Context, order *models.Order, prev models.OrderStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.changes = append(f.changes, string(prev)+"->"+string(order.Status))
	return nil
}

// memoryCache is a map-backed OrderCache.
type memoryCache struct {
	mu     sync.Mutex
	orders map[string]*models.Order
	gets   int
}

func newMemoryCache() *memoryCache {
	return &memoryCache{orders: make(map[string]*models.Order)}
}

func (c *memoryCache) Get(_ context.Context, id string) (*models.Order, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gets++
	o, ok := c.orders[id]
	if !ok {
		return nil, nil
	}
	cp := *o
	return &cp, nil
}

func (c *memoryCache) Set(_ context.Context, order *models.Order) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := *order
	c.orders[order.ID] = &cp
	return nil
}

func (c *memoryCache) Delete(_ context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.orders, id)
	return nil
}

type testEnv struct {
	orders     *repository.MemoryOrderRepository
	access     *repository.MemoryAccessRepository
	cache      *memoryCache
	provider   *fakeProvider
	notifier   *fakeNotifier
	events     *fakePublisher
	sagaLog    *sqlite.Repository
	sagas      *saga.Orchestrator
	orderSvc   *OrderService
	paymentSvc *PaymentService
	reconciler *Reconciler
	recovery   *Recovery
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	sagaLog, err := sqlite.Open(filepath.Join(t.TempDir(), "saga.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sagaLog.Close() })

	logger := logging.Nop()
	env := &testEnv{
		orders:   repository.NewMemoryOrderRepository(),
		cache:    newMemoryCache(),
		provider: &fakeProvider{},
		notifier: &fakeNotifier{},
		events:   &fakePublisher{},
		sagaLog:  sagaLog,
	}
	env.access = repository.NewMemoryAccessRepository(env.orders)
	env.access.AddUser(models.Profile{UserID: "u1", FullName: "Maria Souza", Phone: "24999990000", Email: "maria@example.com"}, "tok-u1", models.RoleCustomer)
	env.access.AddUser(models.Profile{UserID: "admin", FullName: "Ana Admin"}, "tok-admin", models.RoleAdmin)
	env.access.AddUser(models.Profile{UserID: "exp", FullName: "Edu Expedição"}, "tok-exp", models.RoleExpedition)

	env.orderSvc = NewOrderService(env.orders, env.access, env.cache, env.events, env.notifier, logger)
	env.sagas = saga.NewOrchestrator(sagaLog, logger)
	env.paymentSvc = NewPaymentService(env.orders, env.provider, env.sagas,
		env.cache, env.events, env.notifier,
		config.MercadoPagoConfig{NotificationURL: "https://checkout.test/api/v1/webhooks/mercadopago"}, logger)
	env.reconciler = NewReconciler(env.orders, env.provider, env.cache, env.events, env.notifier, logger)
	env.recovery = NewRecovery(sagaLog, env.sagas, env.orders, env.reconciler, logger)
	return env
}

func validCheckout(method string) *models.CheckoutRequest {
	return &models.CheckoutRequest{
		Name:          "Maria Souza",
		Phone:         "(24) 99999-0000",
		Address:       "Rua do Imperador, 100",
		Neighborhood:  "Centro",
		City:          "Petrópolis",
		PaymentMethod: method,
		Items: []models.OrderItem{
			{ProductID: "1", Name: "Dúzia de ovos", UnitPrice: decimal.RequireFromString("11.95"), Quantity: 2},
		},
	}
}

func createOrder(t *testing.T, env *testEnv, method string) *models.Order {
	t.Helper()
	order, err := env.orderSvc.CreateOrder(context.Background(), "u1", validCheckout(method))
	require.NoError(t, err)
	return order
}

func customer() *models.Caller {
	return &models.Caller{UserID: "u1", Email: "maria@example.com", Roles: []models.Role{models.RoleCustomer}}
}
