package cart

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	pkgerrors "github.com/angelmondragon/todolimpio-backend/pkg/errors"
	"github.com/angelmondragon/todolimpio-backend/pkg/logger"
)

// Service owns one persisted cart per identity. Operations on the same
// identity are serialised; a mutation is adopted only after it was saved.
type Service struct {
	storage Storage
	locks   *keyedLocks
	logg    *logger.Logger
}

func NewService(storage Storage, logg *logger.Logger) (*Service, error) {
	if storage == nil {
		return nil, errors.New("cart storage is required")
	}
	if logg == nil {
		logg = logger.Nop()
	}
	return &Service{storage: storage, locks: newKeyedLocks(), logg: logg}, nil
}

func (s *Service) Get(ctx context.Context, identityID string) (Cart, error) {
	var out Cart
	err := s.withCart(ctx, identityID, func(c Cart) (Cart, bool, error) {
		out = c
		return c, false, nil
	})
	return out, err
}

func (s *Service) AddItem(ctx context.Context, identityID string, line Line) (Cart, error) {
	line.ProductID = strings.TrimSpace(line.ProductID)
	if line.ProductID == "" {
		return Cart{}, pkgerrors.New(pkgerrors.CodeValidation, "product id is required")
	}
	if line.Quantity < 1 || line.Quantity > MaxLineQuantity {
		return Cart{}, quantityError()
	}
	var out Cart
	err := s.withCart(ctx, identityID, func(c Cart) (Cart, bool, error) {
		// both operands are within bounds, so the sum cannot overflow
		if c.QuantityOf(line.ProductID)+line.Quantity > MaxLineQuantity {
			return c, false, quantityError()
		}
		out = c.AddItem(line)
		return out, true, nil
	})
	return out, err
}

func quantityError() *pkgerrors.Error {
	return pkgerrors.Newf(pkgerrors.CodeValidation, "quantity must be between 1 and %d", MaxLineQuantity).
		WithDetails(map[string]string{"cantidad": fmt.Sprintf("must be between 1 and %d", MaxLineQuantity)})
}

func (s *Service) RemoveItem(ctx context.Context, identityID, productID string) (Cart, error) {
	return s.mutate(ctx, identityID, func(c Cart) Cart { return c.RemoveItem(productID) })
}

func (s *Service) UpdateQuantity(ctx context.Context, identityID, productID string, quantity int) (Cart, error) {
	if quantity > MaxLineQuantity {
		return Cart{}, quantityError()
	}
	return s.mutate(ctx, identityID, func(c Cart) Cart { return c.UpdateQuantity(productID, quantity) })
}

func (s *Service) Clear(ctx context.Context, identityID string) error {
	_, err := s.mutate(ctx, identityID, func(c Cart) Cart { return c.Clear() })
	return err
}

// ErrClearFailed means fn succeeded but the cart could not be cleared.
var ErrClearFailed = errors.New("cart not cleared")

// Consume hands the current cart to fn while holding the identity's lock and
// clears the cart only when fn succeeds.
func (s *Service) Consume(ctx context.Context, identityID string, fn func(ctx context.Context, c Cart) error) error {
	consumed := false
	err := s.withCart(ctx, identityID, func(c Cart) (Cart, bool, error) {
		if err := fn(ctx, c); err != nil {
			return c, false, err
		}
		consumed = true
		return c.Clear(), true, nil
	})
	if err != nil && consumed {
		return fmt.Errorf("%w: %w", ErrClearFailed, err)
	}
	return err
}

func (s *Service) mutate(ctx context.Context, identityID string, fn func(Cart) Cart) (Cart, error) {
	var out Cart
	err := s.withCart(ctx, identityID, func(c Cart) (Cart, bool, error) {
		out = fn(c)
		return out, true, nil
	})
	return out, err
}

// withCart loads the cart under the identity lock, runs fn and persists the
// returned cart when fn asks for it.
func (s *Service) withCart(ctx context.Context, identityID string, fn func(Cart) (Cart, bool, error)) error {
	if strings.TrimSpace(identityID) == "" {
		return pkgerrors.New(pkgerrors.CodeUnauthorized, "identity required")
	}
	unlock, err := s.locks.lock(ctx, identityID)
	if err != nil {
		return err
	}
	defer unlock()

	current, err := s.load(ctx, identityID)
	if err != nil {
		return err
	}
	next, persist, err := fn(current)
	if err != nil || !persist {
		return err
	}
	// the write must land even if the caller goes away mid-request
	return s.save(context.WithoutCancel(ctx), identityID, next)
}

func (s *Service) load(ctx context.Context, identityID string) (Cart, error) {
	blob, err := s.storage.Load(ctx, StorageKey(identityID))
	if errors.Is(err, ErrNotFound) {
		return Cart{}, nil
	}
	if err != nil {
		return Cart{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "cart storage unavailable")
	}
	c, err := decode(blob)
	if err != nil {
		// an unreadable cart is dropped rather than blocking the user forever
		s.logg.Warn(s.logg.WithFields(ctx, map[string]any{
			"user_id": identityID,
			"error":   err.Error(),
		}), "discarding unreadable cart")
		return Cart{}, nil
	}
	return c, nil
}

func (s *Service) save(ctx context.Context, identityID string, c Cart) error {
	key := StorageKey(identityID)
	var err error
	if c.IsEmpty() {
		err = s.storage.Delete(ctx, key)
	} else {
		var blob []byte
		blob, err = encode(c)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode cart")
		}
		err = s.storage.Save(ctx, key, blob)
	}
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "cart storage unavailable")
	}
	return nil
}

// keyedLocks hands out one context-aware mutex per key and forgets keys
// nobody holds or waits for.
type keyedLocks struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	ch   chan struct{}
	refs int
}

func newKeyedLocks() *keyedLocks {
	return &keyedLocks{locks: make(map[string]*keyedLock)}
}

func (k *keyedLocks) lock(ctx context.Context, key string) (func(), error) {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &keyedLock{ch: make(chan struct{}, 1)}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	select {
	case l.ch <- struct{}{}:
		return func() {
			<-l.ch
			k.release(key, l)
		}, nil
	case <-ctx.Done():
		k.release(key, l)
		return nil, fmt.Errorf("waiting for cart lock: %w", ctx.Err())
	}
}

func (k *keyedLocks) release(key string, l *keyedLock) {
	k.mu.Lock()
	defer k.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(k.locks, key)
	}
}
