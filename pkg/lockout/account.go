// Package lockout counts failed logins per account and blocks the account
// once the configured maximum is reached.
package lockout

import (
	"context"
	"errors"
	"time"
)

// Status labels as stored in the labels collection.
const (
	LabelActive   = "Actif"
	LabelBlocked  = "Bloque"
	LabelInactive = "Inactif"
)

// DefaultMaxAttempts applies when the configuration record is missing,
// malformed or holds a non-positive value.
const DefaultMaxAttempts = 3

// fallbackStatusIDs are used when a label is absent from the labels collection.
var fallbackStatusIDs = map[string]int64{
	LabelActive:   1,
	LabelBlocked:  2,
	LabelInactive: 3,
}

var (
	ErrAccountNotFound = errors.New("account not found")
	ErrSettingNotFound = errors.New("setting not found")
	ErrLabelNotFound   = errors.New("status label not found")
	// ErrSettingInvalid means the setting exists but cannot be parsed.
	ErrSettingInvalid = errors.New("setting is malformed")
	// ErrRemoteSideEffectFailed wraps failures of the remote disable call.
	// It is only ever logged and recorded on the detached task.
	ErrRemoteSideEffectFailed = errors.New("remote account disable failed")
	ErrEmailRequired          = errors.New("email is required")
)

// Account is the lockout state of one identity.
type Account struct {
	ID                  string
	Email               string
	FailedLoginAttempts int
	StatusID            int64
	BlockedAt           *time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// AccountStore persists accounts. FindByEmail returns ErrAccountNotFound
// when no account carries the email.
type AccountStore interface {
	FindByEmail(ctx context.Context, email string) (*Account, error)
	Create(ctx context.Context, acc *Account) error
	Save(ctx context.Context, acc *Account) error
}

// AtomicAccountStore is implemented by stores able to run a whole
// read-modify-write on one account inside a transaction. When the account
// does not exist, fn receives a fresh account carrying only the email and
// seed values, and the store inserts it.
type AtomicAccountStore interface {
	AccountStore
	Mutate(ctx context.Context, email string, seed Account, fn func(acc *Account) error) (*Account, error)
}

// Settings exposes the configuration record and the status label table.
type Settings interface {
	// MaxAttempts returns the configured value, ErrSettingNotFound or
	// ErrSettingInvalid.
	MaxAttempts(ctx context.Context) (int, error)
	// StatusID resolves a label or returns ErrLabelNotFound.
	StatusID(ctx context.Context, label string) (int64, error)
}

// Disabler turns the account off at the identity provider.
type Disabler interface {
	DisableAccount(ctx context.Context, email string) error
}

// State is a read-only view of an account's lockout position.
type State struct {
	Email               string `json:"email"`
	Exists              bool   `json:"exists"`
	FailedLoginAttempts int    `json:"failed_login_attempts"`
	MaxAttempts         int    `json:"max_attempts"`
	Blocked             bool   `json:"blocked"`
}
