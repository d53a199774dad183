package memstore_test

import (
	"testing"

	"vtu-service/internal/ledger"
	"vtu-service/internal/ledger/memstore"
	"vtu-service/internal/ledger/storetest"
)

func TestStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) ledger.Store {
		return memstore.New()
	})
}
