package payment

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/vladislavdragonenkov/dormside/internal/domain"
)

// MockService — конфигурируемый in-memory платёжный шлюз для тестов и PAYMENT_PROVIDER=mock.
type MockService struct {
	mu sync.Mutex

	// InitialStatus — статус, с которым создаются новые intent.
	InitialStatus domain.IntentStatus
	CreateErr     error
	GetErr        error

	CreateCalls int
	GetCalls    int

	seq       int
	intents   map[string]domain.PaymentIntent
	byIdemKey map[string]string
	lastIdem  string
}

// NewMockService возвращает mock, который создаёт intent в статусе requires_action.
func NewMockService() *MockService {
	return &MockService{
		InitialStatus: domain.IntentStatusRequiresAction,
		intents:       make(map[string]domain.PaymentIntent),
		byIdemKey:     make(map[string]string),
	}
}

// CreateIntent возвращает новый intent; повтор с тем же idempotency-key отдаёт прежний.
func (m *MockService) CreateIntent(ctx context.Context, params domain.IntentParams) (domain.PaymentIntent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.CreateCalls++
	if err := ctx.Err(); err != nil {
		return domain.PaymentIntent{}, fmt.Errorf("%w: %v", domain.ErrGateway, err)
	}
	if m.CreateErr != nil {
		return domain.PaymentIntent{}, m.CreateErr
	}

	m.lastIdem = params.IdempotencyKey
	if params.IdempotencyKey != "" {
		if id, ok := m.byIdemKey[params.IdempotencyKey]; ok {
			return cloneIntent(m.intents[id]), nil
		}
	}

	m.seq++
	id := fmt.Sprintf("pi_mock_%d", m.seq)
	currency := strings.ToLower(params.Currency)
	if currency == "" {
		currency = domain.DefaultCurrency
	}

	metadata := make(map[string]string, len(params.Metadata))
	for k, v := range params.Metadata {
		metadata[k] = v
	}

	intent := domain.PaymentIntent{
		ID:           id,
		ClientSecret: id + "_secret_mock",
		Status:       m.InitialStatus,
		AmountMinor:  params.AmountMinor,
		Currency:     currency,
		Metadata:     metadata,
	}
	m.intents[id] = intent
	if params.IdempotencyKey != "" {
		m.byIdemKey[params.IdempotencyKey] = id
	}

	return cloneIntent(intent), nil
}

// GetIntent возвращает сохранённый intent.
func (m *MockService) GetIntent(ctx context.Context, id string) (domain.PaymentIntent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.GetCalls++
	if err := ctx.Err(); err != nil {
		return domain.PaymentIntent{}, fmt.Errorf("%w: %v", domain.ErrGateway, err)
	}
	if m.GetErr != nil {
		return domain.PaymentIntent{}, m.GetErr
	}

	intent, ok := m.intents[id]
	if !ok {
		return domain.PaymentIntent{}, fmt.Errorf("%w: no such payment_intent: %s", domain.ErrGateway, id)
	}
	return cloneIntent(intent), nil
}

// SetStatus переводит intent в указанный статус, имитируя действия покупателя.
func (m *MockService) SetStatus(id string, status domain.IntentStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if intent, ok := m.intents[id]; ok {
		intent.Status = status
		m.intents[id] = intent
	}
}

// Put регистрирует intent вручную (например, с чужой суммой).
func (m *MockService) Put(intent domain.PaymentIntent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.intents[intent.ID] = cloneIntent(intent)
}

// IntentCount возвращает число созданных intent.
func (m *MockService) IntentCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.intents)
}

// LastIdempotencyKey возвращает ключ последнего вызова CreateIntent.
func (m *MockService) LastIdempotencyKey() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastIdem
}

// Calls возвращает счётчики вызовов.
func (m *MockService) Calls() (create, get int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.CreateCalls, m.GetCalls
}

func cloneIntent(intent domain.PaymentIntent) domain.PaymentIntent {
	if intent.Metadata != nil {
		metadata := make(map[string]string, len(intent.Metadata))
		for k, v := range intent.Metadata {
			metadata[k] = v
		}
		intent.Metadata = metadata
	}
	return intent
}

var _ domain.PaymentGateway = (*MockService)(nil)
