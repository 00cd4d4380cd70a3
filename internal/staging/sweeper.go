package staging

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

const (
	sweepBatch = 100
	// sweepRetryDelay postpones an upload whose sweep failed so later
	// expired names are reached.
	sweepRetryDelay = 15 * time.Minute
)

// Deleter removes stored objects by name.
type Deleter interface {
	Delete(ctx context.Context, name string) error
}

// References reports whether a saved note or recording still uses an object.
type References interface {
	UploadInUse(ctx context.Context, name string) (bool, error)
}

// Sweeper deletes staged uploads whose expiry has passed.
type Sweeper struct {
	registry Registry
	storage  Deleter
	refs     References
	logger   *zap.Logger
	now      func() time.Time
}

func NewSweeper(registry Registry, storage Deleter, refs References, logger *zap.Logger) *Sweeper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sweeper{registry: registry, storage: storage, refs: refs, logger: logger, now: time.Now}
}

// Sweep removes every expired upload that nothing references and returns how
// many were deleted. Referenced uploads are unstaged without deleting them.
// An upload that cannot be checked or deleted is postponed by sweepRetryDelay.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	deleted := 0
	now := s.now()
	for {
		names, err := s.registry.Expired(ctx, now, sweepBatch)
		if err != nil {
			return deleted, err
		}
		if len(names) == 0 {
			return deleted, nil
		}

		settled := make([]string, 0, len(names))
		removed := 0
		for _, name := range names {
			inUse, err := s.inUse(ctx, name)
			if err != nil {
				s.logger.Warn("sweep: check upload references failed", zap.String("object", name), zap.Error(err))
				if err := s.postpone(ctx, name, now); err != nil {
					return deleted, err
				}
				continue
			}
			if inUse {
				s.logger.Info("sweep: upload is referenced, unstaging", zap.String("object", name))
				settled = append(settled, name)
				continue
			}
			if err := s.storage.Delete(ctx, name); err != nil {
				s.logger.Warn("sweep: delete staged upload failed", zap.String("object", name), zap.Error(err))
				if err := s.postpone(ctx, name, now); err != nil {
					return deleted, err
				}
				continue
			}
			settled = append(settled, name)
			removed++
		}
		if err := s.registry.Claim(ctx, settled...); err != nil {
			return deleted, fmt.Errorf("unstage swept uploads: %w", err)
		}
		deleted += removed
		if len(names) < sweepBatch {
			return deleted, nil
		}
	}
}

func (s *Sweeper) inUse(ctx context.Context, name string) (bool, error) {
	if s.refs == nil {
		return false, nil
	}
	return s.refs.UploadInUse(ctx, name)
}

func (s *Sweeper) postpone(ctx context.Context, name string, now time.Time) error {
	if err := s.registry.Stage(ctx, name, now.Add(sweepRetryDelay)); err != nil {
		return fmt.Errorf("postpone staged upload %s: %w", name, err)
	}
	return nil
}

// Run sweeps every interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			count, err := s.Sweep(ctx)
			if err != nil {
				s.logger.Error("sweep: staged uploads", zap.Error(err))
				continue
			}
			if count > 0 {
				s.logger.Info("sweep: removed abandoned uploads", zap.Int("count", count))
			}
		}
	}
}
