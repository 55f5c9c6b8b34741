//go:build integration

package firestore

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	pconfig "github.com/tripdesk/api/internal/platform/config"
	pfirestore "github.com/tripdesk/api/internal/platform/firestore"
)

// newEmulatorProvider connects to the emulator named by FIRESTORE_EMULATOR_HOST. Each call gets
// its own project so tests never see each other's documents.
func newEmulatorProvider(t *testing.T, name string) *pfirestore.Provider {
	t.Helper()
	host := os.Getenv("FIRESTORE_EMULATOR_HOST")
	if host == "" {
		t.Skip("FIRESTORE_EMULATOR_HOST not set")
	}
	provider := pfirestore.NewProvider(pconfig.FirestoreConfig{
		ProjectID:    fmt.Sprintf("%s-%d", name, time.Now().UnixNano()),
		EmulatorHost: host,
	})
	t.Cleanup(func() { _ = provider.Close(context.Background()) })
	return provider
}
