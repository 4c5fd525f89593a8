package blobstore

import (
	"context"
	"errors"
	"log/slog"
	"sort"

	"golang.org/x/time/rate"
)

// TieredStore layers a fast primary store over an optional cold tier.
//
// Writes land on the primary synchronously; the cold tier is a best-effort
// mirror. A mirror failure is logged and swallowed so a flaky remote never
// fails an ingest. Reads fall through to the cold tier on a primary miss and
// re-populate the primary on the way back.
type TieredStore struct {
	primary BlobStore
	cold    BlobStore
	limiter *rate.Limiter
	logger  *slog.Logger
}

// TieredOptions configures a TieredStore.
type TieredOptions struct {
	// MirrorRate caps cold-tier uploads. Nil means unlimited.
	MirrorRate *rate.Limiter

	// Logger records mirror failures. Nil discards them.
	Logger *slog.Logger
}

// NewTieredStore creates a TieredStore. cold may be nil, in which case the
// store degrades to a plain pass-through over primary.
func NewTieredStore(primary, cold BlobStore, optFns ...func(o *TieredOptions)) *TieredStore {
	opts := TieredOptions{}
	for _, fn := range optFns {
		fn(&opts)
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &TieredStore{
		primary: primary,
		cold:    cold,
		limiter: opts.MirrorRate,
		logger:  logger,
	}
}

// Get reads from the primary tier, falling through to the cold tier on a
// miss. Cold hits are written back to the primary tier best-effort.
func (s *TieredStore) Get(ctx context.Context, name string) ([]byte, error) {
	data, err := s.primary.Get(ctx, name)
	if err == nil {
		return data, nil
	}
	if !errors.Is(err, ErrNotFound) || s.cold == nil {
		return nil, err
	}

	data, err = s.cold.Get(ctx, name)
	if err != nil {
		return nil, err
	}

	if perr := s.primary.Put(ctx, name, data); perr != nil {
		s.logger.WarnContext(ctx, "primary tier backfill failed",
			"blob", name,
			"error", perr,
		)
	}
	return data, nil
}

// Put writes to the primary tier synchronously and mirrors to the cold tier.
// Mirror failures are logged and do not fail the write.
func (s *TieredStore) Put(ctx context.Context, name string, data []byte) error {
	if err := s.primary.Put(ctx, name, data); err != nil {
		return err
	}

	if s.cold == nil {
		return nil
	}

	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			s.logger.WarnContext(ctx, "cold tier mirror skipped",
				"blob", name,
				"error", err,
			)
			return nil
		}
	}

	if err := s.cold.Put(ctx, name, data); err != nil {
		s.logger.WarnContext(ctx, "cold tier mirror failed",
			"blob", name,
			"error", err,
		)
	}
	return nil
}

// Exists checks the primary tier first, then the cold tier.
func (s *TieredStore) Exists(ctx context.Context, name string) (bool, error) {
	ok, err := s.primary.Exists(ctx, name)
	if err != nil || ok {
		return ok, err
	}
	if s.cold == nil {
		return false, nil
	}
	return s.cold.Exists(ctx, name)
}

// Delete removes the blob from both tiers.
func (s *TieredStore) Delete(ctx context.Context, name string) error {
	if err := s.primary.Delete(ctx, name); err != nil {
		return err
	}
	if s.cold == nil {
		return nil
	}
	if err := s.cold.Delete(ctx, name); err != nil {
		s.logger.WarnContext(ctx, "cold tier delete failed",
			"blob", name,
			"error", err,
		)
	}
	return nil
}

// List returns the union of both tiers, sorted.
func (s *TieredStore) List(ctx context.Context, prefix string) ([]string, error) {
	names, err := s.primary.List(ctx, prefix)
	if err != nil {
		return nil, err
	}
	if s.cold == nil {
		return names, nil
	}

	coldNames, err := s.cold.List(ctx, prefix)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{}, len(names))
	for _, n := range names {
		seen[n] = struct{}{}
	}
	for _, n := range coldNames {
		if _, ok := seen[n]; !ok {
			names = append(names, n)
		}
	}
	sort.Strings(names)
	return names, nil
}
