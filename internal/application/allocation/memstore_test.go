package allocation

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/erp/allocation/internal/domain/allocation"
	"github.com/erp/allocation/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// memStore is an in-memory TransactionScope. A transaction holds the store
// mutex for its whole duration and is rolled back from a snapshot on error.
type memStore struct {
	mu           sync.Mutex
	lots         map[uuid.UUID]allocation.Lot
	reservations map[uuid.UUID]allocation.Reservation

	// lotConflicts makes the next N lot saves fail with a concurrency conflict
	lotConflicts int
	saveAttempts int
}

func newMemStore() *memStore {
	return &memStore{
		lots:         make(map[uuid.UUID]allocation.Lot),
		reservations: make(map[uuid.UUID]allocation.Reservation),
	}
}

func (s *memStore) Execute(_ context.Context, fn func(repos TransactionalRepositories) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	lots := make(map[uuid.UUID]allocation.Lot, len(s.lots))
	for k, v := range s.lots {
		lots[k] = v
	}
	reservations := make(map[uuid.UUID]allocation.Reservation, len(s.reservations))
	for k, v := range s.reservations {
		reservations[k] = v
	}

	if err := fn(&memRepos{s: s, inTx: true}); err != nil {
		s.lots = lots
		s.reservations = reservations
		return err
	}
	return nil
}

func (s *memStore) LotRepo() allocation.LotRepository {
	return &memRepos{s: s}
}

func (s *memStore) ReservationRepo() allocation.ReservationRepository {
	return (&memRepos{s: s}).reservations()
}

// memRepos implements both repositories. Outside a transaction every call
// takes the store mutex itself.
type memRepos struct {
	s    *memStore
	inTx bool
}

func (r *memRepos) LotRepo() allocation.LotRepository                 { return r }
func (r *memRepos) ReservationRepo() allocation.ReservationRepository { return r.reservations() }

func (r *memRepos) lock() func() {
	if r.inTx {
		return func() {}
	}
	r.s.mu.Lock()
	return r.s.mu.Unlock
}

func loadLot(v allocation.Lot) *allocation.Lot {
	l := v
	l.ClearEvents()
	return &l
}

func loadReservation(v allocation.Reservation) *allocation.Reservation {
	r := v
	r.ClearEvents()
	return &r
}

func (r *memRepos) FindByID(_ context.Context, id uuid.UUID) (*allocation.Lot, error) {
	defer r.lock()()
	v, ok := r.s.lots[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	return loadLot(v), nil
}

func (r *memRepos) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*allocation.Lot, error) {
	return r.FindByID(ctx, id)
}

func (r *memRepos) ListEligible(_ context.Context, productID uuid.UUID, ordering allocation.LotOrdering, _ bool) ([]*allocation.Lot, error) {
	defer r.lock()()
	var out []*allocation.Lot
	for _, v := range r.s.lots {
		if v.ProductID == productID && v.State == allocation.LotStateAvailable && v.CurrentQuantity.IsPositive() {
			out = append(out, loadLot(v))
		}
	}
	allocation.SortLots(out, ordering)
	return out, nil
}

func (r *memRepos) ListByProduct(_ context.Context, productID uuid.UUID) ([]*allocation.Lot, error) {
	defer r.lock()()
	var out []*allocation.Lot
	for _, v := range r.s.lots {
		if v.ProductID == productID {
			out = append(out, loadLot(v))
		}
	}
	allocation.SortLots(out, allocation.LotOrderingCreation)
	return out, nil
}

func (r *memRepos) FindExpiring(_ context.Context, now time.Time, limit int) ([]*allocation.Lot, error) {
	defer r.lock()()
	var out []*allocation.Lot
	for _, v := range r.s.lots {
		if v.State == allocation.LotStateAvailable && v.IsExpiredAt(now) {
			out = append(out, loadLot(v))
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memRepos) Create(_ context.Context, lot *allocation.Lot) error {
	defer r.lock()()
	r.s.lots[lot.ID] = *lot
	return nil
}

func (r *memRepos) SaveWithVersion(_ context.Context, lot *allocation.Lot) error {
	defer r.lock()()
	r.s.saveAttempts++
	if r.s.lotConflicts > 0 {
		r.s.lotConflicts--
		return shared.ErrConcurrencyConflict
	}
	stored, ok := r.s.lots[lot.ID]
	if !ok {
		return shared.ErrNotFound
	}
	if stored.Version != lot.Version {
		return shared.ErrConcurrencyConflict
	}
	lot.Version++
	r.s.lots[lot.ID] = *lot
	return nil
}

// reservation side; method names collide with the lot side, so memRepos
// exposes them through a wrapper type
type memReservations struct{ *memRepos }

func (r *memRepos) reservations() *memReservations { return &memReservations{r} }

func (r *memReservations) FindByID(_ context.Context, id uuid.UUID) (*allocation.Reservation, error) {
	defer r.lock()()
	v, ok := r.s.reservations[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	return loadReservation(v), nil
}

func (r *memReservations) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*allocation.Reservation, error) {
	return r.FindByID(ctx, id)
}

func (r *memReservations) Create(_ context.Context, res *allocation.Reservation) error {
	defer r.lock()()
	r.s.reservations[res.ID] = *res
	return nil
}

func (r *memReservations) SaveWithVersion(_ context.Context, res *allocation.Reservation) error {
	defer r.lock()()
	stored, ok := r.s.reservations[res.ID]
	if !ok {
		return shared.ErrNotFound
	}
	if stored.Version != res.Version {
		return shared.ErrConcurrencyConflict
	}
	res.Version++
	r.s.reservations[res.ID] = *res
	return nil
}

func (r *memReservations) filter(keep func(allocation.Reservation) bool) []*allocation.Reservation {
	var out []*allocation.Reservation
	for _, v := range r.s.reservations {
		if keep(v) {
			out = append(out, loadReservation(v))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (r *memReservations) FindOpenByOrder(_ context.Context, orderID uuid.UUID, _ bool) ([]*allocation.Reservation, error) {
	defer r.lock()()
	return r.filter(func(v allocation.Reservation) bool {
		return v.OrderID == orderID && v.State == allocation.ReservationStateReserved
	}), nil
}

func (r *memReservations) FindByOrder(_ context.Context, orderID uuid.UUID) ([]*allocation.Reservation, error) {
	defer r.lock()()
	return r.filter(func(v allocation.Reservation) bool { return v.OrderID == orderID }), nil
}

func (r *memReservations) FindOpenByLine(_ context.Context, lineID uuid.UUID) ([]*allocation.Reservation, error) {
	defer r.lock()()
	return r.filter(func(v allocation.Reservation) bool {
		return v.OrderLineID == lineID && v.State == allocation.ReservationStateReserved
	}), nil
}

func (r *memReservations) FindOpenByProductAfterDate(_ context.Context, productID uuid.UUID, cutoff time.Time) ([]*allocation.Reservation, error) {
	defer r.lock()()
	out := r.filter(func(v allocation.Reservation) bool {
		return v.ProductID == productID && v.State == allocation.ReservationStateReserved && v.OrderDueDate.After(cutoff)
	})
	allocation.SortReclaimCandidates(out)
	return out, nil
}

func (r *memReservations) UpdateDueDateForOrder(_ context.Context, orderID uuid.UUID, due time.Time) (int64, error) {
	defer r.lock()()
	var n int64
	for id, v := range r.s.reservations {
		if v.OrderID == orderID && v.State == allocation.ReservationStateReserved {
			v.OrderDueDate = due
			r.s.reservations[id] = v
			n++
		}
	}
	return n, nil
}

func (r *memReservations) SumByLot(_ context.Context, lotID uuid.UUID) (allocation.ReservationTotals, error) {
	defer r.lock()()
	t := allocation.ReservationTotals{Reserved: decimal.Zero, Fulfilled: decimal.Zero, Released: decimal.Zero}
	for _, v := range r.s.reservations {
		if v.LotID != lotID {
			continue
		}
		switch v.State {
		case allocation.ReservationStateReserved:
			t.Reserved = t.Reserved.Add(v.Quantity)
		case allocation.ReservationStateFulfilled:
			t.Fulfilled = t.Fulfilled.Add(v.Quantity)
		}
		t.Released = t.Released.Add(v.ReleasedQuantity)
	}
	return t, nil
}

func (r *memReservations) SumCoveredByLine(_ context.Context, lineID uuid.UUID) (decimal.Decimal, error) {
	defer r.lock()()
	sum := decimal.Zero
	for _, v := range r.s.reservations {
		if v.OrderLineID == lineID && v.State != allocation.ReservationStateReleased {
			sum = sum.Add(v.Quantity)
		}
	}
	return sum, nil
}

// fakeOrders is an in-memory OrderBook that records line state writes.
type fakeOrders struct {
	mu     sync.Mutex
	orders map[uuid.UUID]*allocation.Order
	states map[uuid.UUID]allocation.LineState
	writes []allocation.LineState
}

func newFakeOrders() *fakeOrders {
	return &fakeOrders{
		orders: make(map[uuid.UUID]*allocation.Order),
		states: make(map[uuid.UUID]allocation.LineState),
	}
}

func (f *fakeOrders) addOrder(due time.Time, lines ...allocation.OrderLine) *allocation.Order {
	f.mu.Lock()
	defer f.mu.Unlock()
	o := &allocation.Order{ID: uuid.New(), DueDate: due}
	for _, l := range lines {
		l.OrderID = o.ID
		l.DueDate = due
		if l.ID == uuid.Nil {
			l.ID = uuid.New()
		}
		o.Lines = append(o.Lines, l)
	}
	f.orders[o.ID] = o
	return o
}

func (f *fakeOrders) GetOrderDueDate(_ context.Context, orderID uuid.UUID) (time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[orderID]
	if !ok {
		return time.Time{}, fmt.Errorf("%w: order %s", shared.ErrNotFound, orderID)
	}
	return o.DueDate, nil
}

func (f *fakeOrders) SetLineState(_ context.Context, lineID uuid.UUID, state allocation.LineState) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.states[lineID] = state
	f.writes = append(f.writes, state)
	for _, o := range f.orders {
		for i := range o.Lines {
			if o.Lines[i].ID == lineID {
				o.Lines[i].State = state
			}
		}
	}
	return nil
}

func (f *fakeOrders) state(lineID uuid.UUID) allocation.LineState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.states[lineID]
}

func (f *fakeOrders) UpsertOrder(_ context.Context, order *allocation.Order) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.orders[order.ID] = order
	return nil
}

func (f *fakeOrders) FindOrder(_ context.Context, orderID uuid.UUID) (*allocation.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[orderID]
	if !ok {
		return nil, shared.ErrNotFound
	}
	return o, nil
}

func (f *fakeOrders) FindLinesNeedingStock(_ context.Context, limit int) ([]allocation.OrderLine, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []allocation.OrderLine
	for _, o := range f.orders {
		for _, l := range o.Lines {
			if l.State.NeedsStock() {
				out = append(out, l)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DueDate.Before(out[j].DueDate) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// testEnv wires every service against one memStore.
type testEnv struct {
	store      *memStore
	orders     *fakeOrders
	lots       *LotLedger
	ledger     *ReservationLedger
	allocator  *Allocator
	dispatcher *Dispatcher
	arbitrage  *ArbitrageEngine
	engine     *Engine
	productID  uuid.UUID
	day0       time.Time
}

func newTestEnv(t *testing.T, cfgs ...Config) *testEnv {
	t.Helper()
	cfg := DefaultConfig()
	cfg.RetryBackoff = time.Millisecond
	if len(cfgs) > 0 {
		cfg = cfgs[0]
	}

	store := newMemStore()
	orders := newFakeOrders()
	logger := zap.NewNop()
	reservations := store.ReservationRepo()

	env := &testEnv{
		store:     store,
		orders:    orders,
		productID: uuid.New(),
		day0:      time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
	}
	env.lots = NewLotLedger(store, store.LotRepo(), reservations, cfg, logger)
	env.ledger = NewReservationLedger(store, reservations, orders, cfg, logger)
	env.allocator = NewAllocator(store, orders, cfg, logger)
	env.dispatcher = NewDispatcher(store, cfg, logger)
	env.arbitrage = NewArbitrageEngine(store, env.ledger, orders, nil, cfg, logger)
	env.engine = NewEngine(env.allocator, env.dispatcher, env.arbitrage, env.ledger, reservations, orders, logger)
	return env
}

func (e *testEnv) day(n int) time.Time {
	return e.day0.AddDate(0, 0, n)
}

// addLot registers a lot of the env product expiring on day expiryDay (0 for none)
func (e *testEnv) addLot(t *testing.T, qty int64, expiryDay int) *allocation.Lot {
	t.Helper()
	var expiry *time.Time
	if expiryDay > 0 {
		d := e.day(expiryDay)
		expiry = &d
	}
	lot, err := e.lots.RegisterLot(context.Background(), RegisterLotRequest{
		ProductID:      e.productID,
		LotNumber:      fmt.Sprintf("L-%d-%d", qty, expiryDay),
		Quantity:       decimal.NewFromInt(qty),
		ProductionDate: e.day0,
		ExpiryDate:     expiry,
	})
	require.NoError(t, err)
	return lot
}

// addOrder creates an order due on day dueDay with one line for qty of the env product
func (e *testEnv) addOrder(dueDay int, qty int64) (*allocation.Order, allocation.OrderLine) {
	o := e.orders.addOrder(e.day(dueDay), allocation.OrderLine{
		ProductID: e.productID,
		Quantity:  decimal.NewFromInt(qty),
	})
	return o, o.Lines[0]
}

func (e *testEnv) lot(t *testing.T, id uuid.UUID) *allocation.Lot {
	t.Helper()
	l, err := e.lots.GetLot(context.Background(), id)
	require.NoError(t, err)
	return l
}

func (e *testEnv) requireConserved(t *testing.T, lotIDs ...uuid.UUID) {
	t.Helper()
	for _, id := range lotIDs {
		audit, err := e.lots.Audit(context.Background(), id)
		require.NoError(t, err)
		require.Truef(t, audit.Balanced, "lot %s off by %s", id, audit.Discrepancy)
		require.False(t, audit.Lot.CurrentQuantity.IsNegative())
	}
}

func dec(n int64) decimal.Decimal { return decimal.NewFromInt(n) }
