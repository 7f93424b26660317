package service

import (
	"context"
	"sync"
	"time"

	"github.com/honeynil/safedeal/internal/infrastructure/redis"
	"github.com/honeynil/safedeal/internal/models"
	pkgerrors "github.com/honeynil/safedeal/pkg/errors"
)

// memStore is an in-memory backend implementing all repository interfaces
// with the same compare-and-swap semantics as the Postgres implementations.
type memStore struct {
	mu          sync.Mutex
	deals       map[string]*models.Deal
	users       map[int64]*models.User
	reviews     []models.Review
	withdrawals map[int64]*models.Withdrawal
	nextID      int64
}

func newMemStore() *memStore {
	return &memStore{
		deals:       make(map[string]*models.Deal),
		users:       make(map[int64]*models.User),
		withdrawals: make(map[int64]*models.Withdrawal),
	}
}

func (m *memStore) Create(ctx context.Context, deal *models.Deal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *deal
	cp.CreatedAt = time.Now()
	m.deals[deal.ID] = &cp
	return nil
}

func (m *memStore) GetByID(ctx context.Context, id string) (*models.Deal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	deal, ok := m.deals[id]
	if !ok {
		return nil, pkgerrors.ErrDealNotFound
	}
	cp := *deal
	return &cp, nil
}

func (m *memStore) Exists(ctx context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.deals[id]
	return ok, nil
}

func (m *memStore) ListByUser(ctx context.Context, userID int64) ([]models.Deal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Deal
	for _, d := range m.deals {
		if d.BuyerID == userID || d.SellerID == userID {
			out = append(out, *d)
		}
	}
	return out, nil
}

func (m *memStore) SetConfirmed(ctx context.Context, id string, role models.Role) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	deal, ok := m.deals[id]
	if !ok {
		return pkgerrors.ErrDealNotFound
	}
	if role == models.RoleBuyer {
		deal.BuyerConfirmed = true
	} else {
		deal.SellerConfirmed = true
	}
	return nil
}

func (m *memStore) SetPaymentURL(ctx context.Context, id, url string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	deal, ok := m.deals[id]
	if !ok {
		return pkgerrors.ErrDealNotFound
	}
	deal.PaymentURL = url
	return nil
}

func (m *memStore) UpdateStatus(ctx context.Context, id string, from []models.DealStatus, to models.DealStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.casStatusLocked(id, from, to)
}

func (m *memStore) casStatusLocked(id string, from []models.DealStatus, to models.DealStatus) error {
	deal, ok := m.deals[id]
	if !ok {
		return pkgerrors.ErrDealNotFound
	}
	for _, f := range from {
		if deal.Status == f {
			deal.Status = to
			return nil
		}
	}
	return pkgerrors.ErrInvalidState
}

func (m *memStore) ConfirmPayment(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	deal, ok := m.deals[id]
	if !ok {
		return pkgerrors.ErrDealNotFound
	}
	if !deal.BothConfirmed() {
		return pkgerrors.ErrInvalidState
	}
	return m.casStatusLocked(id,
		[]models.DealStatus{models.StatusCreated, models.StatusAwaitingPayment},
		models.StatusPaymentReceived)
}

func (m *memStore) MarkDisputed(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.casStatusLocked(id,
		[]models.DealStatus{models.StatusCreated, models.StatusAwaitingPayment, models.StatusPaymentReceived},
		models.StatusDispute); err != nil {
		return err
	}
	m.deals[id].DisputeOpened = true
	return nil
}

func (m *memStore) CompleteWithCredit(ctx context.Context, id string, from models.DealStatus, sellerID int64, amount float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.casStatusLocked(id, []models.DealStatus{from}, models.StatusCompleted); err != nil {
		return err
	}
	m.creditLocked(sellerID, amount)
	return nil
}

func (m *memStore) creditLocked(userID int64, amount float64) {
	u, ok := m.users[userID]
	if !ok {
		u = &models.User{ID: userID}
		m.users[userID] = u
	}
	u.Balance = models.Round2(u.Balance + amount)
}

func (m *memStore) Ensure(ctx context.Context, userID int64, username string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[userID]; !ok {
		m.users[userID] = &models.User{ID: userID, Username: username, CreatedAt: time.Now()}
	}
	return nil
}

func (m *memStore) GetUser(ctx context.Context, userID int64) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return nil, pkgerrors.ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *memStore) GetBalance(ctx context.Context, userID int64) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		m.users[userID] = &models.User{ID: userID}
		return 0, nil
	}
	return u.Balance, nil
}

func (m *memStore) setBalance(userID int64, balance float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.creditLocked(userID, 0)
	m.users[userID].Balance = balance
}

func (m *memStore) CreateReview(ctx context.Context, review *models.Review) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	review.ID = m.nextID
	review.CreatedAt = time.Now()
	m.reviews = append(m.reviews, *review)
	return review.ID, nil
}

func (m *memStore) ListByReviewedUser(ctx context.Context, userID int64) ([]models.Review, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Review
	for _, r := range m.reviews {
		if r.ReviewedUserID == userID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memStore) AverageRating(ctx context.Context, userID int64) (float64, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var sum, count int
	for _, r := range m.reviews {
		if r.ReviewedUserID == userID {
			sum += r.Rating
			count++
		}
	}
	if count == 0 {
		return 0, 0, nil
	}
	return float64(sum) / float64(count), count, nil
}

func (m *memStore) CreateFromBalance(ctx context.Context, userID int64, wallet string, min float64) (*models.Withdrawal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok || u.Balance < min {
		return nil, pkgerrors.ErrInsufficientBalance
	}
	m.nextID++
	w := &models.Withdrawal{
		ID:        m.nextID,
		UserID:    userID,
		Amount:    u.Balance,
		Status:    models.WithdrawalPending,
		Wallet:    wallet,
		CreatedAt: time.Now(),
	}
	u.Balance = 0
	m.withdrawals[w.ID] = w
	cp := *w
	return &cp, nil
}

func (m *memStore) GetWithdrawal(ctx context.Context, id int64) (*models.Withdrawal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.withdrawals[id]
	if !ok {
		return nil, pkgerrors.ErrWithdrawalNotFound
	}
	cp := *w
	return &cp, nil
}

func (m *memStore) ListWithdrawalsByUser(ctx context.Context, userID int64) ([]models.Withdrawal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Withdrawal
	for _, w := range m.withdrawals {
		if w.UserID == userID {
			out = append(out, *w)
		}
	}
	return out, nil
}

func (m *memStore) MarkCompleted(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.withdrawals[id]
	if !ok {
		return pkgerrors.ErrWithdrawalNotFound
	}
	if w.Status != models.WithdrawalPending {
		return pkgerrors.ErrInvalidState
	}
	now := time.Now()
	w.Status = models.WithdrawalCompleted
	w.ProcessedAt = &now
	return nil
}

// Interface-shaped views so one memStore can back every repository the
// services need without method name clashes.
type memDealRepo struct{ *memStore }
type memUserRepo struct{ *memStore }
type memReviewRepo struct{ *memStore }
type memWithdrawalRepo struct{ *memStore }

func (r memUserRepo) GetByID(ctx context.Context, userID int64) (*models.User, error) {
	return r.GetUser(ctx, userID)
}

func (r memReviewRepo) Create(ctx context.Context, review *models.Review) (int64, error) {
	return r.CreateReview(ctx, review)
}

func (r memWithdrawalRepo) GetByID(ctx context.Context, id int64) (*models.Withdrawal, error) {
	return r.GetWithdrawal(ctx, id)
}

func (r memWithdrawalRepo) ListByUser(ctx context.Context, userID int64) ([]models.Withdrawal, error) {
	return r.ListWithdrawalsByUser(ctx, userID)
}

// fakeGateway answers payment checks from a fixed script.
type fakeGateway struct {
	mu          sync.Mutex
	paid        map[string]bool
	payoutOK    bool
	payoutErr   error
	checkErr    error
	linkErr     error
	payoutCalls int
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{paid: make(map[string]bool), payoutOK: true}
}

func (g *fakeGateway) CreatePaymentLink(ctx context.Context, amount float64, reference, description string) (string, error) {
	if g.linkErr != nil {
		return "", g.linkErr
	}
	return "https://pay.example/" + reference, nil
}

func (g *fakeGateway) CheckPayment(ctx context.Context, reference string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.checkErr != nil {
		return false, g.checkErr
	}
	return g.paid[reference], nil
}

func (g *fakeGateway) Payout(ctx context.Context, wallet string, amount float64) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.payoutCalls++
	if g.payoutErr != nil {
		return false, g.payoutErr
	}
	return g.payoutOK, nil
}

func (g *fakeGateway) markPaid(reference string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.paid[reference] = true
}

// fakeRedis is a map-backed cache; expirations are ignored.
type fakeRedis struct {
	mu   sync.Mutex
	data map[string]string
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{data: make(map[string]string)}
}

func (r *fakeRedis) Get(ctx context.Context, key string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.data[key]
	if !ok {
		return "", redis.ErrKeyNotFound
	}
	return v, nil
}

func (r *fakeRedis) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := value.(string); ok {
		r.data[key] = s
	}
	return nil
}

func (r *fakeRedis) SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.data[key]; ok {
		return false, nil
	}
	if s, ok := value.(string); ok {
		r.data[key] = s
	}
	return true, nil
}

func (r *fakeRedis) Del(ctx context.Context, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.data, key)
	return nil
}

func (r *fakeRedis) Close() error { return nil }

// fakeProducer records every published message.
type fakeProducer struct {
	mu     sync.Mutex
	topics []string
}

func (p *fakeProducer) Send(ctx context.Context, topic, key string, value []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topics = append(p.topics, topic)
	return nil
}

func (p *fakeProducer) Close() error { return nil }
