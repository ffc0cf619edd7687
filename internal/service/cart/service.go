// Package cart is the cart store: it owns the client-side CartState, runs
// every operation through a single worker so calls never overlap, and
// re-derives state from the server after each successful write.
package cart

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"fitcart/internal/domain"
	"fitcart/internal/logger"
	"fitcart/internal/normalize"
	cartrepo "fitcart/internal/repository/cart"
	"fitcart/internal/retry"
	"github.com/go-faster/errors"
	"github.com/google/uuid"
)

// ErrClosed is returned for operations submitted after Close.
var ErrClosed = errors.New("cart store closed")

const (
	opRefresh     = "list"
	opAdd         = "add"
	opSetQuantity = "set_quantity"
	opRemove      = "remove"
	opClear       = "clear"
	opCheckout    = "checkout"
)

type Service struct {
	repo    cartrepo.Repository
	session cartrepo.Session
	retry   *retry.Policy
	logger  *slog.Logger
	newKey  func() string

	mu          sync.Mutex
	state       domain.CartState
	epoch       uint64
	nextSub     int
	subscribers []subscriber
	notes       *notifier

	jobs      chan job
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

type subscriber struct {
	id int
	fn func(domain.CartState)
}

type job struct {
	ctx    context.Context
	op     string
	run    func(ctx context.Context) error
	result chan error
}

type Option func(*Service)

func WithRetry(p *retry.Policy) Option {
	return func(s *Service) { s.retry = p }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = logger.OrDiscard(l) }
}

// WithKeyGenerator replaces the checkout idempotency key source.
func WithKeyGenerator(fn func() string) Option {
	return func(s *Service) { s.newKey = fn }
}

// New starts the store's worker. Call Close to stop it.
func New(repo cartrepo.Repository, session cartrepo.Session, opts ...Option) *Service {
	s := &Service{
		repo:    repo,
		session: session,
		logger:  logger.Discard(),
		newKey:  uuid.NewString,
		state:   domain.CartState{}.WithItems([]domain.CartItem{}),
		notes:   newNotifier(),
		jobs:    make(chan job),
		done:    make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	if s.retry == nil {
		s.retry = retry.New(retry.WithLogger(s.logger))
	}
	s.wg.Add(1)
	go s.worker()
	return s
}

// Close stops the worker after the operation in progress, if any, finishes.
// Notifications already queued are still delivered.
func (s *Service) Close() {
	s.closeOnce.Do(func() { close(s.done) })
	s.wg.Wait()
	s.notes.close()
}

// Snapshot returns a copy of the current state.
func (s *Service) Snapshot() domain.CartState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Clone()
}

// Subscribe registers fn to receive every new state. Notifications arrive in
// order on a goroutine owned by the store, so fn may call store operations;
// a slow fn delays later notifications but not the operations themselves.
// The returned func unregisters it.
func (s *Service) Subscribe(fn func(domain.CartState)) func() {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subscribers = append(s.subscribers, subscriber{id: id, fn: fn})
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, sub := range s.subscribers {
			if sub.id == id {
				s.subscribers = append(s.subscribers[:i], s.subscribers[i+1:]...)
				return
			}
		}
	}
}

// Reset empties the cart. Responses to requests issued before the reset are
// discarded. It does not go through the worker, so it is safe to call from a
// session listener fired while an operation is running.
func (s *Service) Reset() {
	s.update(func(st *domain.CartState) {
		s.epoch++
		*st = st.WithItems([]domain.CartItem{})
		st.Error = ""
	})
	s.logger.Info("cart reset")
}

// HandleSessionChange follows the session owner: an empty token resets the
// cart, a new token loads it.
func (s *Service) HandleSessionChange(ctx context.Context, token string) error {
	if token == "" {
		s.Reset()
		return nil
	}
	return s.Refresh(ctx)
}

// Refresh replaces the cart with the server's snapshot. Without a session
// the cart is emptied and nothing is sent.
func (s *Service) Refresh(ctx context.Context) error {
	return s.submit(ctx, opRefresh, s.refresh)
}

func (s *Service) Add(ctx context.Context, productID string, quantity int) error {
	id, err := strconv.ParseInt(strings.TrimSpace(productID), 10, 64)
	if err != nil {
		return &domain.ValidationError{Field: "productId", Reason: "must be an integer"}
	}
	if quantity < 1 {
		return &domain.ValidationError{Field: "quantity", Reason: "must be at least 1"}
	}
	return s.submit(ctx, opAdd, func(ctx context.Context) error {
		return s.write(ctx, opAdd, func(ctx context.Context) error {
			return s.repo.Add(ctx, id, quantity)
		})
	})
}

func (s *Service) SetQuantity(ctx context.Context, lineID int64, quantity int) error {
	if quantity < 1 {
		return &domain.ValidationError{Field: "quantity", Reason: "must be at least 1"}
	}
	return s.submit(ctx, opSetQuantity, func(ctx context.Context) error {
		return s.write(ctx, opSetQuantity, func(ctx context.Context) error {
			return s.repo.SetQuantity(ctx, lineID, quantity)
		})
	})
}

func (s *Service) Remove(ctx context.Context, lineID int64) error {
	return s.submit(ctx, opRemove, func(ctx context.Context) error {
		return s.write(ctx, opRemove, func(ctx context.Context) error {
			return s.repo.Remove(ctx, lineID)
		})
	})
}

// Clear empties the cart server-side and locally, without a refetch.
func (s *Service) Clear(ctx context.Context) error {
	return s.submit(ctx, opClear, func(ctx context.Context) error {
		if err := s.requireSession(); err != nil {
			return err
		}
		if err := s.retry.Do(ctx, opClear, s.repo.Clear); err != nil {
			return err
		}
		s.replace([]domain.CartItem{})
		return nil
	})
}

// Checkout places the order and empties the cart locally. A rate-limited
// attempt is re-issued with the same idempotency key.
func (s *Service) Checkout(ctx context.Context) error {
	return s.submit(ctx, opCheckout, func(ctx context.Context) error {
		if err := s.requireSession(); err != nil {
			return err
		}
		key := s.newKey()
		err := s.retry.Do(ctx, opCheckout, func(ctx context.Context) error {
			return s.repo.Checkout(ctx, key)
		})
		if err != nil {
			return err
		}
		s.logger.Info("order placed", "idempotency_key", key)
		s.replace([]domain.CartItem{})
		return nil
	})
}

// write performs a mutation and then reloads the cart. A failed reload only
// annotates the state; the mutation itself already succeeded.
func (s *Service) write(ctx context.Context, op string, call func(ctx context.Context) error) error {
	if err := s.requireSession(); err != nil {
		return err
	}
	if err := s.retry.Do(ctx, op, call); err != nil {
		return err
	}
	if err := s.refresh(ctx); err != nil {
		s.logger.Warn("reload after write failed", "op", op, "err", err)
		s.update(func(st *domain.CartState) { st.Error = domain.UserMessage(err) })
	}
	return nil
}

func (s *Service) refresh(ctx context.Context) error {
	if _, ok := s.session.CurrentToken(); !ok {
		s.replace([]domain.CartItem{})
		return nil
	}

	s.mu.Lock()
	epoch := s.epoch
	s.mu.Unlock()

	var body json.RawMessage
	err := s.retry.Do(ctx, opRefresh, func(ctx context.Context) error {
		var err error
		body, err = s.repo.List(ctx)
		return err
	})
	if err != nil {
		return err
	}

	items := normalize.Normalize(body)
	applied := s.updateIf(func(st *domain.CartState) bool {
		if s.epoch != epoch {
			return false
		}
		*st = st.WithItems(items)
		return true
	})
	if !applied {
		s.logger.Debug("discarding cart snapshot fetched before reset")
	}
	return nil
}

func (s *Service) requireSession() error {
	if _, ok := s.session.CurrentToken(); !ok {
		return domain.ErrNoSession
	}
	return nil
}

func (s *Service) replace(items []domain.CartItem) {
	s.update(func(st *domain.CartState) { *st = st.WithItems(items) })
}

func (s *Service) submit(ctx context.Context, op string, run func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	j := job{ctx: ctx, op: op, run: run, result: make(chan error, 1)}
	select {
	case s.jobs <- j:
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return ErrClosed
	}
	return <-j.result
}

func (s *Service) worker() {
	defer s.wg.Done()
	for {
		select {
		case j := <-s.jobs:
			j.result <- s.execute(j)
		case <-s.done:
			return
		}
	}
}

func (s *Service) execute(j job) error {
	s.update(func(st *domain.CartState) {
		st.Loading = true
		st.Error = ""
	})

	err := j.run(j.ctx)
	canceled := errors.Is(err, context.Canceled)
	switch {
	case canceled:
		s.logger.Info("cart operation canceled", "op", j.op)
	case err != nil:
		s.logger.Warn("cart operation failed", "op", j.op, "err", err)
	}

	s.update(func(st *domain.CartState) {
		st.Loading = false
		if err != nil && !canceled {
			st.Error = domain.UserMessage(err)
		}
	})
	return err
}

func (s *Service) update(fn func(st *domain.CartState)) {
	s.updateIf(func(st *domain.CartState) bool {
		fn(st)
		return true
	})
}

// updateIf applies fn under the lock and queues a notification when fn
// reports a change. Queuing under the lock keeps notifications in version order.
func (s *Service) updateIf(fn func(st *domain.CartState) bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !fn(&s.state) {
		return false
	}
	s.state.Version++
	subs := make([]func(domain.CartState), len(s.subscribers))
	for i, sub := range s.subscribers {
		subs[i] = sub.fn
	}
	s.notes.enqueue(delivery{subs: subs, state: s.state.Clone()})
	return true
}
