package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"pumpledger/internal/store"
)

type balance struct {
	ID     string `json:"id"`
	Owner  string `json:"owner"`
	Amount int    `json:"amount"`
}

func newIntegrationStore(t *testing.T) (*Store, store.Collection) {
	t.Helper()
	databaseURL := os.Getenv("PUMPLEDGER_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set PUMPLEDGER_TEST_DATABASE_URL to run postgres integration test")
	}

	ctx := context.Background()
	s, err := New(ctx, databaseURL, 10)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	collection := store.Collection(fmt.Sprintf("it-%d", time.Now().UnixNano()))
	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM documents WHERE collection = $1`, string(collection))
		_ = s.Close()
	})
	return s, collection
}

func TestRunInTxCommitsAndRollsBack(t *testing.T) {
	s, c := newIntegrationStore(t)
	ctx := context.Background()

	if err := s.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.Put(ctx, c, "a", balance{ID: "a", Owner: "o1", Amount: 5})
	}); err != nil {
		t.Fatalf("commit: %v", err)
	}

	boom := errors.New("boom")
	err := s.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if err := tx.Put(ctx, c, "a", balance{ID: "a", Owner: "o1", Amount: 99}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected body error, got %v", err)
	}

	got, err := store.Load[balance](ctx, s, c, "a")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Amount != 5 {
		t.Fatalf("expected rollback to keep 5, got %d", got.Amount)
	}

	found, err := store.FindAll[balance](ctx, s, c, store.Where("owner", "o1").Order("amount", true).Take(1))
	if err != nil || len(found) != 1 {
		t.Fatalf("find: %v (%d rows)", err, len(found))
	}
}

func TestConcurrentIncrementsSerialize(t *testing.T) {
	s, c := newIntegrationStore(t)
	ctx := context.Background()
	if err := s.Batch(ctx, []store.Write{{Collection: c, ID: "counter", Value: balance{ID: "counter"}}}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	const workers = 6
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- s.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
				b, err := store.Load[balance](ctx, tx, c, "counter")
				if err != nil {
					return err
				}
				b.Amount++
				return tx.Put(ctx, c, "counter", b)
			})
		}()
	}
	wg.Wait()
	close(errs)

	committed := 0
	for err := range errs {
		if err == nil {
			committed++
		} else if !errors.Is(err, store.ErrConflict) {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	got, _ := store.Load[balance](ctx, s, c, "counter")
	if got.Amount != committed {
		t.Fatalf("expected counter %d to equal committed transactions %d", got.Amount, committed)
	}
}
