package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/cricketpools/internal/domain"
)

// Bootstrap stores seed as the engine settings unless settings already
// exist, and returns the settings in effect.
func (e *Engine) Bootstrap(ctx context.Context, seed domain.Settings) (domain.Settings, error) {
	unlock, err := e.locker.Lock(ctx, settingsLockKey)
	if err != nil {
		return domain.Settings{}, fmt.Errorf("engine: bootstrap: lock: %w", err)
	}
	defer unlock()

	current, err := e.settings.GetSettings(ctx)
	if err == nil {
		return current, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return domain.Settings{}, fmt.Errorf("engine: bootstrap: %w", err)
	}
	if seed.Owner == (common.Address{}) || seed.FeeRecipient == (common.Address{}) {
		return domain.Settings{}, fmt.Errorf("engine: bootstrap: owner and fee recipient required: %w", domain.ErrInvalidRecipient)
	}
	if seed.DefaultFeeBps > domain.MaxFeeBps {
		return domain.Settings{}, fmt.Errorf("engine: bootstrap: %d bps: %w", seed.DefaultFeeBps, domain.ErrInvalidFee)
	}
	seed.UpdatedAt = e.now().UTC()
	if err := e.settings.SaveSettings(ctx, seed); err != nil {
		return domain.Settings{}, fmt.Errorf("engine: bootstrap: %w", err)
	}
	e.logger.InfoContext(ctx, "engine: settings initialised",
		slog.String("owner", seed.Owner.Hex()),
		slog.String("fee_recipient", seed.FeeRecipient.Hex()),
		slog.Int("default_fee_bps", int(seed.DefaultFeeBps)),
	)
	return seed, nil
}

// Settings returns the engine-wide settings.
func (e *Engine) Settings(ctx context.Context) (domain.Settings, error) {
	return e.loadSettings(ctx)
}

// IsAdmin reports whether addr is the current owner.
func (e *Engine) IsAdmin(ctx context.Context, addr common.Address) (bool, error) {
	s, err := e.loadSettings(ctx)
	if err != nil {
		return false, err
	}
	return s.Owner == addr, nil
}

// Pause blocks new joins on every pool. Resolve, cancel and claim are
// unaffected.
func (e *Engine) Pause(ctx context.Context, caller common.Address) error {
	return e.updateSettings(ctx, caller, domain.EventPaused, func(s *domain.Settings) error {
		if s.Paused {
			return domain.ErrPaused
		}
		s.Paused = true
		return nil
	})
}

// Unpause lifts a previous Pause.
func (e *Engine) Unpause(ctx context.Context, caller common.Address) error {
	return e.updateSettings(ctx, caller, domain.EventUnpaused, func(s *domain.Settings) error {
		if !s.Paused {
			return domain.ErrNotPaused
		}
		s.Paused = false
		return nil
	})
}

// SetFeeRecipient changes where platform fees are paid.
func (e *Engine) SetFeeRecipient(ctx context.Context, caller, recipient common.Address) error {
	return e.updateSettings(ctx, caller, domain.EventSettingsChanged, func(s *domain.Settings) error {
		if recipient == (common.Address{}) {
			return domain.ErrInvalidRecipient
		}
		s.FeeRecipient = recipient
		return nil
	})
}

// SetPlatformFee changes the fee applied to pools created afterwards.
// Existing pools keep the fee they were created with.
func (e *Engine) SetPlatformFee(ctx context.Context, caller common.Address, bps uint16) error {
	return e.updateSettings(ctx, caller, domain.EventSettingsChanged, func(s *domain.Settings) error {
		if bps > domain.MaxFeeBps {
			return domain.ErrInvalidFee
		}
		s.DefaultFeeBps = bps
		return nil
	})
}

// TransferOwnership hands every admin right to newOwner.
func (e *Engine) TransferOwnership(ctx context.Context, caller, newOwner common.Address) error {
	return e.updateSettings(ctx, caller, domain.EventSettingsChanged, func(s *domain.Settings) error {
		if newOwner == (common.Address{}) {
			return domain.ErrInvalidRecipient
		}
		s.Owner = newOwner
		return nil
	})
}

func (e *Engine) updateSettings(ctx context.Context, caller common.Address, evt domain.EventType, apply func(*domain.Settings) error) error {
	unlock, err := e.locker.Lock(ctx, settingsLockKey)
	if err != nil {
		return fmt.Errorf("engine: %s: lock: %w", evt, err)
	}
	defer unlock()

	s, err := e.requireAdmin(ctx, caller)
	if err != nil {
		return err
	}
	if err := apply(&s); err != nil {
		return fmt.Errorf("engine: %s: %w", evt, err)
	}
	s.UpdatedAt = e.now().UTC()
	if err := e.settings.SaveSettings(ctx, s); err != nil {
		return fmt.Errorf("engine: %s: save: %w", evt, err)
	}

	e.logger.InfoContext(ctx, "engine: settings updated",
		slog.String("change", string(evt)),
		slog.String("owner", s.Owner.Hex()),
		slog.Bool("paused", s.Paused),
	)
	e.publish(ctx, domain.Event{Type: evt, User: caller, Recipient: s.FeeRecipient, At: s.UpdatedAt})
	return nil
}

func (e *Engine) loadSettings(ctx context.Context) (domain.Settings, error) {
	s, err := e.settings.GetSettings(ctx)
	if err != nil {
		return domain.Settings{}, fmt.Errorf("engine: load settings: %w", err)
	}
	return s, nil
}

// requireAdmin returns the current settings if caller is the owner.
func (e *Engine) requireAdmin(ctx context.Context, caller common.Address) (domain.Settings, error) {
	s, err := e.loadSettings(ctx)
	if err != nil {
		return domain.Settings{}, err
	}
	if caller != s.Owner {
		return domain.Settings{}, fmt.Errorf("engine: caller %s: %w", caller.Hex(), domain.ErrUnauthorized)
	}
	return s, nil
}
