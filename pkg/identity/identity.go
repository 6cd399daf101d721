// Package identity talks to the external identity provider.
package identity

import (
	"context"
	"fmt"

	"firebase.google.com/go/v4/auth"
	"go.uber.org/zap"
)

// UserAdmin is the subset of *auth.Client used here.
type UserAdmin interface {
	GetUserByEmail(ctx context.Context, email string) (*auth.UserRecord, error)
	UpdateUser(ctx context.Context, uid string, user *auth.UserToUpdate) (*auth.UserRecord, error)
}

// FirebaseDisabler disables accounts in Firebase Authentication.
type FirebaseDisabler struct {
	admin UserAdmin
	log   *zap.Logger
}

func NewFirebaseDisabler(admin UserAdmin, log *zap.Logger) *FirebaseDisabler {
	if log == nil {
		log = zap.NewNop()
	}
	return &FirebaseDisabler{admin: admin, log: log.Named("identity")}
}

// DisableAccount is a no-op for emails the provider does not know.
func (d *FirebaseDisabler) DisableAccount(ctx context.Context, email string) error {
	user, err := d.admin.GetUserByEmail(ctx, email)
	if auth.IsUserNotFound(err) {
		d.log.Warn("no identity provider account for email", zap.String("email", email))
		return nil
	}
	if err != nil {
		return fmt.Errorf("lookup %s: %w", email, err)
	}
	if user.Disabled {
		return nil
	}
	if _, err := d.admin.UpdateUser(ctx, user.UID, (&auth.UserToUpdate{}).Disabled(true)); err != nil {
		return fmt.Errorf("disable %s: %w", user.UID, err)
	}
	return nil
}

// Noop is used when remote disabling is switched off.
type Noop struct {
	Log *zap.Logger
}

func (n Noop) DisableAccount(_ context.Context, email string) error {
	if n.Log != nil {
		n.Log.Info("remote account disable skipped", zap.String("email", email))
	}
	return nil
}
