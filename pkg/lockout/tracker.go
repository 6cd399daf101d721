package lockout

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"signalement-platform/pkg/detached"
	"signalement-platform/pkg/metrics"

	"go.uber.org/zap"
)

type Options struct {
	// DefaultMaxAttempts replaces a missing, malformed or non-positive
	// configured value.
	DefaultMaxAttempts int
	// Transactional runs each update through AtomicAccountStore.Mutate when
	// the store supports it. Without it, two concurrent updates of the same
	// account can lose one increment.
	Transactional bool
	Now           func() time.Time
}

// Outcome describes what RecordFailure did.
type Outcome struct {
	Attempts     int
	Blocked      bool
	NewlyBlocked bool
	// Disable is the remote disable task started by this call, if any.
	Disable *detached.Task
}

type Tracker struct {
	accounts AccountStore
	atomic   AtomicAccountStore
	settings Settings
	disabler Disabler
	launcher *detached.Launcher
	log      *zap.Logger
	opts     Options
}

func NewTracker(accounts AccountStore, settings Settings, disabler Disabler, launcher *detached.Launcher, log *zap.Logger, opts Options) *Tracker {
	if log == nil {
		log = zap.NewNop()
	}
	if launcher == nil {
		launcher = detached.NewLauncher(log, 30*time.Second)
	}
	if opts.DefaultMaxAttempts <= 0 {
		opts.DefaultMaxAttempts = DefaultMaxAttempts
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	t := &Tracker{
		accounts: accounts,
		settings: settings,
		disabler: disabler,
		launcher: launcher,
		log:      log.Named("lockout"),
		opts:     opts,
	}
	if opts.Transactional {
		if a, ok := accounts.(AtomicAccountStore); ok {
			t.atomic = a
		} else {
			t.log.Warn("account store has no transactional variant, using plain read-modify-write")
		}
	}
	return t
}

// RecordFailure counts one failed login. Reaching the maximum blocks the
// account and starts the remote disable as a detached task; a failure of
// that task never undoes the local block. An already blocked account is
// left untouched.
func (t *Tracker) RecordFailure(ctx context.Context, email string) (Outcome, error) {
	email = normalizeEmail(email)
	if email == "" {
		return Outcome{}, ErrEmailRequired
	}

	maxAttempts, err := t.maxAttempts(ctx)
	if err != nil {
		return Outcome{}, err
	}
	activeID, err := t.statusID(ctx, LabelActive)
	if err != nil {
		return Outcome{}, err
	}
	blockedID, err := t.statusID(ctx, LabelBlocked)
	if err != nil {
		return Outcome{}, err
	}

	var out Outcome
	apply := func(acc *Account) error {
		out = Outcome{}
		if acc.StatusID == blockedID {
			out.Attempts = acc.FailedLoginAttempts
			out.Blocked = true
			return nil
		}
		now := t.opts.Now()
		acc.FailedLoginAttempts++
		acc.UpdatedAt = now
		if acc.FailedLoginAttempts >= maxAttempts {
			acc.StatusID = blockedID
			acc.BlockedAt = &now
			out.NewlyBlocked = true
			out.Blocked = true
		}
		out.Attempts = acc.FailedLoginAttempts
		return nil
	}

	if err := t.update(ctx, email, activeID, apply); err != nil {
		return Outcome{}, err
	}

	if out.NewlyBlocked {
		metrics.LockoutBlocks.Inc()
		t.log.Info("account blocked",
			zap.String("email", email),
			zap.Int("attempts", out.Attempts),
			zap.Int("max_attempts", maxAttempts))
		out.Disable = t.disableRemote(ctx, email)
	} else if out.Blocked {
		t.log.Debug("failed attempt on blocked account ignored", zap.String("email", email))
	}
	return out, nil
}

// RecordSuccess resets the counter and sets the account Active, clearing
// any block.
func (t *Tracker) RecordSuccess(ctx context.Context, email string) error {
	email = normalizeEmail(email)
	if email == "" {
		return ErrEmailRequired
	}
	activeID, err := t.statusID(ctx, LabelActive)
	if err != nil {
		return err
	}

	var wasBlocked bool
	err = t.update(ctx, email, activeID, func(acc *Account) error {
		wasBlocked = acc.StatusID != activeID
		acc.FailedLoginAttempts = 0
		acc.StatusID = activeID
		acc.UpdatedAt = t.opts.Now()
		return nil
	})
	if err != nil {
		return err
	}
	if wasBlocked {
		t.log.Info("account reactivated after successful login", zap.String("email", email))
	}
	return nil
}

// IsBlocked reports whether the account is blocked or has reached the
// maximum. Unknown accounts are not blocked.
func (t *Tracker) IsBlocked(ctx context.Context, email string) (bool, error) {
	st, err := t.Inspect(ctx, email)
	if err != nil {
		return false, err
	}
	return st.Blocked, nil
}

// Inspect reads the lockout state without modifying it.
func (t *Tracker) Inspect(ctx context.Context, email string) (State, error) {
	email = normalizeEmail(email)
	if email == "" {
		return State{}, ErrEmailRequired
	}
	maxAttempts, err := t.maxAttempts(ctx)
	if err != nil {
		return State{}, err
	}
	st := State{Email: email, MaxAttempts: maxAttempts}

	acc, err := t.accounts.FindByEmail(ctx, email)
	if errors.Is(err, ErrAccountNotFound) {
		return st, nil
	}
	if err != nil {
		return State{}, fmt.Errorf("find account: %w", err)
	}
	blockedID, err := t.statusID(ctx, LabelBlocked)
	if err != nil {
		return State{}, err
	}

	st.Exists = true
	st.FailedLoginAttempts = acc.FailedLoginAttempts
	st.Blocked = acc.StatusID == blockedID || acc.FailedLoginAttempts >= maxAttempts
	return st, nil
}

func (t *Tracker) update(ctx context.Context, email string, activeID int64, fn func(acc *Account) error) error {
	seed := Account{Email: email, StatusID: activeID}

	if t.atomic != nil {
		if _, err := t.atomic.Mutate(ctx, email, seed, fn); err != nil {
			return fmt.Errorf("update account: %w", err)
		}
		return nil
	}

	acc, err := t.accounts.FindByEmail(ctx, email)
	switch {
	case errors.Is(err, ErrAccountNotFound):
		now := t.opts.Now()
		seed.CreatedAt = now
		seed.UpdatedAt = now
		if err := fn(&seed); err != nil {
			return err
		}
		if err := t.accounts.Create(ctx, &seed); err != nil {
			return fmt.Errorf("create account: %w", err)
		}
		t.log.Info("account created on first lockout event", zap.String("email", email))
		return nil
	case err != nil:
		return fmt.Errorf("find account: %w", err)
	}

	if err := fn(acc); err != nil {
		return err
	}
	if err := t.accounts.Save(ctx, acc); err != nil {
		return fmt.Errorf("save account: %w", err)
	}
	return nil
}

func (t *Tracker) disableRemote(ctx context.Context, email string) *detached.Task {
	if t.disabler == nil {
		return nil
	}
	return t.launcher.Go(ctx, "disable-account", func(ctx context.Context) error {
		if err := t.disabler.DisableAccount(ctx, email); err != nil {
			metrics.LockoutRemoteDisableFailures.Inc()
			return fmt.Errorf("%w: %s: %w", ErrRemoteSideEffectFailed, email, err)
		}
		t.log.Info("account disabled at identity provider", zap.String("email", email))
		return nil
	})
}

func (t *Tracker) maxAttempts(ctx context.Context) (int, error) {
	n, err := t.settings.MaxAttempts(ctx)
	switch {
	case errors.Is(err, ErrSettingNotFound):
		t.log.Warn("max attempts not configured, using default", zap.Int("default", t.opts.DefaultMaxAttempts))
		return t.opts.DefaultMaxAttempts, nil
	case errors.Is(err, ErrSettingInvalid):
		t.log.Warn("max attempts is malformed, using default",
			zap.Int("default", t.opts.DefaultMaxAttempts),
			zap.Error(err))
		return t.opts.DefaultMaxAttempts, nil
	case err != nil:
		return 0, fmt.Errorf("read max attempts: %w", err)
	case n <= 0:
		t.log.Warn("max attempts is not positive, using default",
			zap.Int("configured", n),
			zap.Int("default", t.opts.DefaultMaxAttempts))
		return t.opts.DefaultMaxAttempts, nil
	}
	return n, nil
}

func (t *Tracker) statusID(ctx context.Context, label string) (int64, error) {
	id, err := t.settings.StatusID(ctx, label)
	if errors.Is(err, ErrLabelNotFound) {
		fallback := fallbackStatusIDs[label]
		t.log.Warn("status label missing, using built-in id",
			zap.String("label", label),
			zap.Int64("id", fallback))
		return fallback, nil
	}
	if err != nil {
		return 0, fmt.Errorf("resolve status %q: %w", label, err)
	}
	return id, nil
}

func normalizeEmail(email string) string {
	return strings.TrimSpace(email)
}
