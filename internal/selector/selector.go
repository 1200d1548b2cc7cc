// Package selector picks a catalog asset that was never sent before.
//
// The catalog only offers "N random assets matching a filter" with no way to
// exclude already seen ones, so the selector draws one candidate at a time and
// backs off exponentially while it keeps drawing duplicates. It never gives
// up: the delay grows up to MaxBackoff and then stays there until an unseen
// asset appears or ctx is canceled.
package selector

import (
	"context"
	"fmt"
	"time"

	"naps/internal/catalog"
	logx "naps/pkg/logx"
)

const (
	InitialBackoff    = time.Second
	DefaultMaxBackoff = 7 * 24 * time.Hour
)

// Source draws random assets.
type Source interface {
	RandomAssets(ctx context.Context, count int, typ catalog.AssetType, tagID string) ([]catalog.Asset, error)
}

// Seen answers dedup membership queries. The selector never writes to it.
type Seen interface {
	Contains(ctx context.Context, id string) (bool, error)
}

// SleepFunc waits for d or until ctx is done, returning ctx.Err() in the
// latter case.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Filter narrows the candidate pool.
type Filter struct {
	Type  catalog.AssetType
	TagID string
}

type Options struct {
	MaxBackoff time.Duration // 0 means DefaultMaxBackoff
	Sleep      SleepFunc     // nil means a timer bound to ctx
}

type Selector struct {
	src  Source
	seen Seen
	opt  Options
	log  logx.Logger
}

func New(src Source, seen Seen, opt Options, log logx.Logger) *Selector {
	if opt.MaxBackoff <= 0 {
		opt.MaxBackoff = DefaultMaxBackoff
	}
	if opt.Sleep == nil {
		opt.Sleep = Sleep
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Selector{src: src, seen: seen, opt: opt, log: log}
}

// Next blocks until it finds an asset matching f that Seen does not contain.
// Source and Seen errors abort the selection; so does ctx cancellation.
func (s *Selector) Next(ctx context.Context, f Filter) (catalog.Asset, error) {
	backoff := InitialBackoff
	if backoff > s.opt.MaxBackoff {
		backoff = s.opt.MaxBackoff
	}
	for attempt := 1; ; attempt++ {
		assets, err := s.src.RandomAssets(ctx, 1, f.Type, f.TagID)
		if err != nil {
			return catalog.Asset{}, err
		}

		if len(assets) == 0 {
			s.log.Warn("no matching asset returned; retrying later",
				logx.String("type", string(f.Type)),
				logx.String("tag", f.TagID),
				logx.Int("attempt", attempt),
				logx.Duration("backoff", backoff),
			)
		} else {
			a := assets[0]
			sent, err := s.seen.Contains(ctx, a.ID)
			if err != nil {
				return catalog.Asset{}, fmt.Errorf("dedup lookup %s: %w", a.ID, err)
			}
			if !sent {
				s.log.Debug("selected unseen asset", logx.String("asset_id", a.ID), logx.Int("attempt", attempt))
				return a, nil
			}
			s.log.Info("chosen asset was already sent; choosing another later",
				logx.String("asset_id", a.ID),
				logx.Int("attempt", attempt),
				logx.Duration("backoff", backoff),
			)
		}

		if err := s.opt.Sleep(ctx, backoff); err != nil {
			return catalog.Asset{}, err
		}
		backoff = nextBackoff(backoff, s.opt.MaxBackoff)
	}
}

func nextBackoff(cur, ceiling time.Duration) time.Duration {
	if cur >= ceiling/2 {
		return ceiling
	}
	return cur * 2
}

// Sleep is the default SleepFunc.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	tmr := time.NewTimer(d)
	defer tmr.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-tmr.C:
		return nil
	}
}
