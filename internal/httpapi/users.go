package httpapi

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"pumpledger/internal/domain"
	"pumpledger/internal/store"
)

// DocumentUserStore keeps login accounts in the users collection of the
// ledger's document store, keyed by lower-cased username.
type DocumentUserStore struct {
	store store.Store
}

func NewDocumentUserStore(st store.Store) *DocumentUserStore {
	return &DocumentUserStore{store: st}
}

func (s *DocumentUserStore) CreateUser(ctx context.Context, user domain.UserAccount) error {
	id := strings.ToLower(user.Username)
	return s.store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		_, err := tx.Get(ctx, store.Users, id)
		if err == nil {
			return errUserExists
		}
		if !errors.Is(err, store.ErrNotFound) {
			return err
		}
		return tx.Put(ctx, store.Users, id, user)
	})
}

func (s *DocumentUserStore) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	return store.FindAll[domain.UserAccount](ctx, s.store, store.Users, store.Query{})
}

func (s *DocumentUserStore) UpdateUserPassword(ctx context.Context, username string, password string) error {
	id := strings.ToLower(username)
	return s.store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		user, err := store.Load[domain.UserAccount](ctx, tx, store.Users, id)
		if err != nil {
			return fmt.Errorf("user %s: %w", id, err)
		}
		user.Password = password
		return tx.Put(ctx, store.Users, id, user)
	})
}
