//go:build integration

package firestore_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"cloud.google.com/go/firestore"

	pconfig "github.com/tripdesk/api/internal/platform/config"
	pfirestore "github.com/tripdesk/api/internal/platform/firestore"
)

type tripDoc struct {
	Origin string `firestore:"origin"`
	Sales  int    `firestore:"sales"`
}

// newProvider targets the emulator named by FIRESTORE_EMULATOR_HOST and isolates each test in
// its own collection.
func newProvider(t *testing.T) (*pfirestore.Provider, string) {
	t.Helper()
	host := os.Getenv("FIRESTORE_EMULATOR_HOST")
	if host == "" {
		t.Skip("FIRESTORE_EMULATOR_HOST not set")
	}
	provider := pfirestore.NewProvider(pconfig.FirestoreConfig{ProjectID: "tripdesk-test", EmulatorHost: host})
	t.Cleanup(func() { _ = provider.Close(context.Background()) })
	return provider, fmt.Sprintf("trips_%d", time.Now().UnixNano())
}

func TestRepositoryRoundTrip(t *testing.T) {
	provider, collection := newProvider(t)
	repo := pfirestore.NewBaseRepository[tripDoc](provider, collection, nil, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if _, err := repo.Create(ctx, "lis-opo", tripDoc{Origin: "LIS", Sales: 1}); err != nil {
		t.Fatalf("create: %v", err)
	}
	_, err := repo.Create(ctx, "lis-opo", tripDoc{Origin: "LIS"})
	var repoErr *pfirestore.Error
	if !errors.As(err, &repoErr) || !repoErr.IsConflict() {
		t.Fatalf("expected conflict on duplicate create, got %v", err)
	}

	doc, err := repo.Get(ctx, "lis-opo")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if doc.Data.Sales != 1 || doc.UpdateTime.IsZero() {
		t.Fatalf("unexpected document %+v", doc)
	}

	count, err := repo.Count(ctx, func(q firestore.Query) firestore.Query { return q.Where("origin", "==", "LIS") })
	if err != nil || count != 1 {
		t.Fatalf("expected count 1, got %d (%v)", count, err)
	}

	if err := repo.Delete(ctx, "lis-opo"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := repo.Get(ctx, "lis-opo"); !errors.As(err, &repoErr) || !repoErr.IsNotFound() {
		t.Fatalf("expected not found after delete, got %v", err)
	}
}

func TestSessionBuffersWritesUntilCommit(t *testing.T) {
	provider, collection := newProvider(t)
	repo := pfirestore.NewBaseRepository[tripDoc](provider, collection, nil, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if _, err := repo.Set(ctx, "lis-opo", tripDoc{Origin: "LIS", Sales: 2}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	err := provider.RunInSession(ctx, func(ctx context.Context) error {
		if _, err := repo.Set(ctx, "mad-bcn", tripDoc{Origin: "MAD", Sales: 1}); err != nil {
			return err
		}
		staged, err := repo.Get(ctx, "mad-bcn")
		if err != nil {
			return err
		}
		if staged.Data.Origin != "MAD" {
			return fmt.Errorf("buffered write not visible: %+v", staged.Data)
		}
		if err := repo.Delete(ctx, "lis-opo"); err != nil {
			return err
		}
		merged, err := repo.Query(ctx, nil, func(string, tripDoc) bool { return true })
		if err != nil {
			return err
		}
		if len(merged) != 1 || merged[0].ID != "mad-bcn" {
			return fmt.Errorf("expected only the buffered document, got %d", len(merged))
		}
		return nil
	})
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	if _, err := repo.Get(ctx, "lis-opo"); err == nil {
		t.Fatalf("expected lis-opo to be deleted after commit")
	}
	if _, err := repo.Get(ctx, "mad-bcn"); err != nil {
		t.Fatalf("expected mad-bcn after commit: %v", err)
	}
}

func TestSessionRollsBackOnError(t *testing.T) {
	provider, collection := newProvider(t)
	repo := pfirestore.NewBaseRepository[tripDoc](provider, collection, nil, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	errAbort := errors.New("abort")
	err := provider.RunInSession(ctx, func(ctx context.Context) error {
		if _, err := repo.Set(ctx, "lis-opo", tripDoc{Origin: "LIS"}); err != nil {
			return err
		}
		return errAbort
	})
	if !errors.Is(err, errAbort) {
		t.Fatalf("expected callback error, got %v", err)
	}
	if _, err := repo.Get(ctx, "lis-opo"); err == nil {
		t.Fatalf("write must not be committed")
	}
}

func TestClosedProvider(t *testing.T) {
	provider := pfirestore.NewProvider(pconfig.FirestoreConfig{ProjectID: "tripdesk-test"})
	if err := provider.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := provider.Client(context.Background()); !errors.Is(err, pfirestore.ErrProviderClosed) {
		t.Fatalf("expected ErrProviderClosed, got %v", err)
	}
}
