package repository

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/ovos-raposo/checkout-service/internal/apperrors"
	"github.com/ovos-raposo/checkout-service/internal/models"
)

// MemoryOrderRepository is an in-process OrderRepository with the same
// conditional update rules as the Postgres one. It backs STORAGE=memory
// local runs and the service tests.
type MemoryOrderRepository struct {
	mu     sync.Mutex
	orders map[string]*models.Order
}

var _ OrderRepository = (*MemoryOrderRepository)(nil)

func NewMemoryOrderRepository() *MemoryOrderRepository {
	return &MemoryOrderRepository{orders: make(map[string]*models.Order)}
}

func (m *MemoryOrderRepository) Create(_ context.Context, order *models.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.orders[order.ID]; ok {
		return apperrors.ErrConflict
	}
	if order.WhatsAppMessageID != nil {
		for _, o := range m.orders {
			if o.WhatsAppMessageID != nil && *o.WhatsAppMessageID == *order.WhatsAppMessageID {
				return apperrors.ErrConflict
			}
		}
	}
	now := time.Now().UTC()
	order.CreatedAt = now
	order.UpdatedAt = now
	m.orders[order.ID] = cloneOrder(order)
	return nil
}

func (m *MemoryOrderRepository) GetByID(_ context.Context, id string) (*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.orders[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return cloneOrder(o), nil
}

func (m *MemoryOrderRepository) List(_ context.Context, filter *models.OrderListFilter) ([]*models.Order, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	all := make([]*models.Order, 0, len(m.orders))
	for _, o := range m.orders {
		if filter.Status != nil && o.Status != *filter.Status {
			continue
		}
		all = append(all, cloneOrder(o))
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })

	total := len(all)
	start := min(filter.Offset, total)
	end := total
	if filter.Limit > 0 {
		end = min(start+filter.Limit, total)
	}
	return all[start:end], total, nil
}

func (m *MemoryOrderRepository) BeginAttempt(_ context.Context, id string, method models.PaymentMethod) (models.PaymentMethod, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.orders[id]
	if !ok {
		return "", apperrors.ErrNotFound
	}
	if o.Status != models.OrderStatusPendingPayment {
		return "", ErrNotPayable
	}
	prev := o.PaymentMethod
	o.PaymentMethod = method
	o.UpdatedAt = time.Now().UTC()
	return prev, nil
}

func (m *MemoryOrderRepository) RevertAttempt(_ context.Context, id string, method models.PaymentMethod, status models.OrderStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.orders[id]
	if !ok || o.Status != models.OrderStatusPendingPayment {
		return nil
	}
	o.PaymentMethod = method
	o.Status = status
	o.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MemoryOrderRepository) SetPaymentDetails(_ context.Context, id string, details PaymentDetails) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.orders[id]
	if !ok {
		return apperrors.ErrNotFound
	}
	pid := details.PaymentID
	o.PaymentID = &pid
	if details.QRCode != "" {
		qr := details.QRCode
		o.PixQRCode = &qr
	}
	if details.QRCodeBase64 != "" {
		qr := details.QRCodeBase64
		o.PixQRCodeBase64 = &qr
	}
	o.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MemoryOrderRepository) Transition(_ context.Context, id string, from, to models.OrderStatus, paymentID string) (TransitionResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.orders[id]
	if !ok || o.Status != from {
		return TransitionResult{}, nil
	}

	now := time.Now().UTC()
	o.Status = to
	o.UpdatedAt = now
	if paymentID != "" {
		pid := paymentID
		o.PaymentID = &pid
	}

	notify := false
	if to == models.OrderStatusNew && o.NotifiedAt == nil {
		o.NotifiedAt = &now
		notify = true
	}
	return TransitionResult{Applied: true, Notify: notify}, nil
}

func (m *MemoryOrderRepository) ClaimNotification(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.orders[id]
	if !ok || o.Status != models.OrderStatusNew || o.NotifiedAt != nil {
		return false, nil
	}
	now := time.Now().UTC()
	o.NotifiedAt = &now
	return true, nil
}

// SetStatus overwrites a status without checks. Tests use it to stage
// fulfilment states.
func (m *MemoryOrderRepository) SetStatus(id string, status models.OrderStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if o, ok := m.orders[id]; ok {
		o.Status = status
	}
}

func cloneOrder(o *models.Order) *models.Order {
	data, _ := json.Marshal(o)
	var out models.Order
	_ = json.Unmarshal(data, &out)
	out.CreatedAt = o.CreatedAt
	out.UpdatedAt = o.UpdatedAt
	return &out
}

// MemoryAccessRepository is the in-process AccessRepository.
type MemoryAccessRepository struct {
	mu       sync.RWMutex
	tokens   map[string]string
	roles    map[string][]models.Role
	profiles map[string]*models.Profile
	joined   []string
	orders   *MemoryOrderRepository
}

var _ AccessRepository = (*MemoryAccessRepository)(nil)

// NewMemoryAccessRepository creates an access repository whose masked
// listing reads from orders.
func NewMemoryAccessRepository(orders *MemoryOrderRepository) *MemoryAccessRepository {
	return &MemoryAccessRepository{
		tokens:   make(map[string]string),
		roles:    make(map[string][]models.Role),
		profiles: make(map[string]*models.Profile),
		orders:   orders,
	}
}

// AddUser registers a profile, a bearer token and roles.
func (m *MemoryAccessRepository) AddUser(p models.Profile, token string, roles ...models.Role) {
	m.mu.Lock()
	defer m.mu.Unlock()

	pc := p
	if _, ok := m.profiles[p.UserID]; !ok {
		m.joined = append(m.joined, p.UserID)
	}
	m.profiles[p.UserID] = &pc
	if token != "" {
		m.tokens[token] = p.UserID
	}
	m.roles[p.UserID] = append([]models.Role(nil), roles...)
}

func (m *MemoryAccessRepository) ResolveToken(_ context.Context, token string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	uid, ok := m.tokens[token]
	if !ok {
		return "", apperrors.ErrUnauthorized
	}
	return uid, nil
}

func (m *MemoryAccessRepository) Roles(_ context.Context, userID string) ([]models.Role, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return append([]models.Role(nil), m.roles[userID]...), nil
}

func (m *MemoryAccessRepository) HasRole(ctx context.Context, userID string, role models.Role) (bool, error) {
	roles, _ := m.Roles(ctx, userID)
	for _, r := range roles {
		if r == role {
			return true, nil
		}
	}
	return false, nil
}

func (m *MemoryAccessRepository) GetProfile(_ context.Context, userID string) (*models.Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.profiles[userID]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	pc := *p
	return &pc, nil
}

func (m *MemoryAccessRepository) GetProfileByPhone(_ context.Context, phone string) (*models.Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, p := range m.profiles {
		if p.Phone == phone {
			pc := *p
			return &pc, nil
		}
	}
	return nil, apperrors.ErrNotFound
}

func (m *MemoryAccessRepository) ListMaskedOrders(ctx context.Context, limit, offset int) ([]*models.MaskedOrder, error) {
	orders, _, err := m.orders.List(ctx, &models.OrderListFilter{Limit: limit, Offset: offset})
	if err != nil {
		return nil, err
	}

	out := make([]*models.MaskedOrder, 0, len(orders))
	for _, o := range orders {
		out = append(out, &models.MaskedOrder{
			ID:                   o.ID,
			CustomerName:         models.FirstName(o.CustomerName),
			Phone:                models.MaskPhone(o.Phone),
			DeliveryAddress:      o.DeliveryAddress,
			DeliveryNeighborhood: o.DeliveryNeighborhood,
			DeliveryCity:         o.DeliveryCity,
			Items:                o.Items,
			Total:                o.Total,
			Status:               o.Status,
			Notes:                o.Notes,
			CreatedAt:            o.CreatedAt,
			UpdatedAt:            o.UpdatedAt,
		})
	}
	return out, nil
}

func (m *MemoryAccessRepository) ListUsers(_ context.Context, limit, offset int) ([]*models.UserAccount, error) {
	return m.accounts(limit, offset, func(*models.UserAccount) bool { return true }), nil
}

func (m *MemoryAccessRepository) ListCustomers(_ context.Context, limit, offset int) ([]*models.UserAccount, error) {
	return m.accounts(limit, offset, func(a *models.UserAccount) bool { return !a.IsStaff() }), nil
}

func (m *MemoryAccessRepository) accounts(limit, offset int, keep func(*models.UserAccount) bool) []*models.UserAccount {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*models.UserAccount, 0)
	skipped := 0
	for i := len(m.joined) - 1; i >= 0; i-- {
		id := m.joined[i]
		acc := &models.UserAccount{
			Profile: *m.profiles[id],
			Roles:   append([]models.Role{}, m.roles[id]...),
		}
		if !keep(acc) {
			continue
		}
		if skipped < offset {
			skipped++
			continue
		}
		if limit > 0 && len(out) == limit {
			break
		}
		out = append(out, acc)
	}
	return out
}
