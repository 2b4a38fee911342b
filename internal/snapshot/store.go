package snapshot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

const migrationLockKey = "lock:pantry:snapshot-migrate"

// Store reads and writes State through a Blob, upgrading older layouts on load.
type Store struct {
	blob   Blob
	locker Locker
	log    logrus.FieldLogger
	now    func() time.Time
}

func NewStore(blob Blob, locker Locker, logger logrus.FieldLogger) *Store {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Store{
		blob:   blob,
		locker: locker,
		log:    logger.WithField("module", "snapshot"),
		now:    time.Now,
	}
}

// Load returns the persisted state. found is false when nothing has ever been
// saved. Older layouts are rewritten in the current version before returning.
func (s *Store) Load(ctx context.Context) (State, bool, error) {
	data, err := s.blob.Get(ctx, StateKey)
	if err == nil {
		state, version, err := Decode(data)
		if err != nil {
			return State{}, false, err
		}
		if version < CurrentVersion {
			if err := state.Validate(); err != nil {
				return State{}, false, fmt.Errorf("upgrade snapshot v%d: %w", version, err)
			}
			release := s.acquire(ctx)
			defer release()
			if err := s.Save(ctx, state); err != nil {
				return State{}, false, fmt.Errorf("rewrite snapshot v%d: %w", version, err)
			}
			s.log.WithField("from_version", version).Info("snapshot upgraded")
		}
		return state, true, nil
	}
	if !errors.Is(err, ErrBlobNotFound) {
		return State{}, false, err
	}
	return s.migrateLegacy(ctx)
}

// Read returns the persisted state like Load but never writes: older layouts
// are upgraded in memory only and legacy keys are left in place.
func (s *Store) Read(ctx context.Context) (State, bool, error) {
	data, err := s.optional(ctx, StateKey)
	if err != nil {
		return State{}, false, err
	}
	if data != nil {
		state, _, err := Decode(data)
		if err != nil {
			return State{}, false, err
		}
		return state, true, nil
	}

	prices, err := s.optional(ctx, LegacyPricesKey)
	if err != nil {
		return State{}, false, err
	}
	logs, err := s.optional(ctx, LegacyLogsKey)
	if err != nil {
		return State{}, false, err
	}
	if prices == nil && logs == nil {
		return State{}, false, nil
	}
	state, err := UpgradeLegacy(prices, logs)
	if err != nil {
		return State{}, false, fmt.Errorf("upgrade legacy snapshot: %w", err)
	}
	return state, true, nil
}

func (s *Store) Save(ctx context.Context, state State) error {
	data, err := Encode(state, s.now())
	if err != nil {
		return err
	}
	return s.blob.Put(ctx, StateKey, data)
}

func (s *Store) migrateLegacy(ctx context.Context) (State, bool, error) {
	release := s.acquire(ctx)
	defer release()

	// another process may have finished the migration while we waited
	if data, err := s.blob.Get(ctx, StateKey); err == nil {
		state, _, err := Decode(data)
		return state, err == nil, err
	}

	prices, err := s.optional(ctx, LegacyPricesKey)
	if err != nil {
		return State{}, false, err
	}
	logs, err := s.optional(ctx, LegacyLogsKey)
	if err != nil {
		return State{}, false, err
	}
	if prices == nil && logs == nil {
		return State{}, false, nil
	}

	state, err := UpgradeLegacy(prices, logs)
	if err == nil {
		err = state.Validate()
	}
	if err != nil {
		return State{}, false, fmt.Errorf("upgrade legacy snapshot: %w", err)
	}
	if err := s.Save(ctx, state); err != nil {
		return State{}, false, err
	}
	for _, key := range []string{LegacyPricesKey, LegacyLogsKey} {
		if err := s.blob.Delete(ctx, key); err != nil {
			s.log.WithError(err).WithField("key", key).Warn("failed to remove legacy snapshot key")
		}
	}
	s.log.WithFields(logrus.Fields{
		"prices": len(state.Prices),
		"logs":   len(state.Logs),
	}).Info("legacy snapshot migrated")
	return state, true, nil
}

func (s *Store) optional(ctx context.Context, key string) ([]byte, error) {
	data, err := s.blob.Get(ctx, key)
	if errors.Is(err, ErrBlobNotFound) {
		return nil, nil
	}
	return data, err
}

func (s *Store) acquire(ctx context.Context) func() {
	if s.locker == nil {
		return func() {}
	}
	unlock, err := s.locker.Lock(ctx, migrationLockKey)
	if errors.Is(err, ErrLockNotObtained) {
		s.log.Warn("could not obtain snapshot lock; proceeding without lock")
		return func() {}
	}
	if err != nil {
		s.log.WithError(err).Warn("error obtaining snapshot lock; proceeding without lock")
		return func() {}
	}
	return func() { unlock(context.Background()) }
}
