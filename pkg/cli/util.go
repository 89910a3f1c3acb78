package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/fortiblox/bytevm/internal/types"
	"github.com/fortiblox/bytevm/pkg/executor"
	"github.com/fortiblox/bytevm/pkg/journal"
	"github.com/fortiblox/bytevm/pkg/programstore"
	log "github.com/sirupsen/logrus"
)

// errJournalDisabled is returned when a command needs the journal but the
// configuration turns it off.
var errJournalDisabled = errors.New("run journal is disabled (journal.enabled = false)")

// openStore opens the configured program store.
func (a *app) openStore() (programstore.Store, error) {
	if a.cfg.Store.InMemory {
		return programstore.NewMemoryStore(), nil
	}
	if err := os.MkdirAll(a.cfg.Store.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	storeConfig := programstore.DefaultConfig(a.cfg.StorePath())
	storeConfig.NoSync = a.cfg.Store.NoSync
	store, err := programstore.Open(storeConfig)
	if err != nil {
		return nil, err
	}
	return store, nil
}

// openJournal opens the configured run journal.
func (a *app) openJournal() (journal.Journal, error) {
	if !a.cfg.Journal.Enabled {
		return nil, errJournalDisabled
	}
	if a.cfg.Journal.InMemory {
		return journal.NewMemoryJournal(), nil
	}
	if err := os.MkdirAll(a.cfg.Store.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	journalConfig := journal.DefaultBadgerConfig(a.cfg.JournalPath())
	journalConfig.SyncWrites = a.cfg.Journal.SyncWrites
	journalConfig.Logger = log.WithField("component", "journal")
	j, err := journal.OpenBadger(journalConfig)
	if err != nil {
		return nil, err
	}
	return j, nil
}

// openExecutor builds an executor with only the storage a command needs.
// The returned function releases it.
func (a *app) openExecutor(needStore, needJournal bool) (*executor.Executor, func(), error) {
	var (
		store programstore.Store
		j     journal.Journal
		err   error
	)
	closeAll := func() {
		if j != nil {
			j.Close()
		}
		if store != nil {
			store.Close()
		}
	}

	if needStore {
		if store, err = a.openStore(); err != nil {
			return nil, nil, err
		}
	}
	if needJournal {
		if j, err = a.openJournal(); err != nil {
			closeAll()
			return nil, nil, err
		}
	}

	exec, err := executor.New(a.cfg.Executor(), store, j)
	if err != nil {
		closeAll()
		return nil, nil, err
	}
	return exec, closeAll, nil
}

// resolveProgramID interprets ref as a base58 program ID, falling back to a
// store lookup by name.
func (a *app) resolveProgramID(ref string) (types.ProgramID, error) {
	if id, err := types.ProgramIDFromBase58(ref); err == nil {
		return id, nil
	}
	store, err := a.openStore()
	if err != nil {
		return types.ProgramID{}, err
	}
	defer store.Close()

	p, _, err := store.Get(ref)
	if err != nil {
		return types.ProgramID{}, fmt.Errorf("%s: %w", ref, err)
	}
	return p.ID(), nil
}
