package identity

import (
	"context"
	"errors"
	"testing"

	"firebase.google.com/go/v4/auth"
)

type fakeAdmin struct {
	user      *auth.UserRecord
	lookupErr error
	updated   []string
}

func (f *fakeAdmin) GetUserByEmail(context.Context, string) (*auth.UserRecord, error) {
	if f.lookupErr != nil {
		return nil, f.lookupErr
	}
	return f.user, nil
}

func (f *fakeAdmin) UpdateUser(_ context.Context, uid string, _ *auth.UserToUpdate) (*auth.UserRecord, error) {
	f.updated = append(f.updated, uid)
	return f.user, nil
}

func record(uid string, disabled bool) *auth.UserRecord {
	return &auth.UserRecord{UserInfo: &auth.UserInfo{UID: uid}, Disabled: disabled}
}

func TestDisableAccountUpdatesUser(t *testing.T) {
	admin := &fakeAdmin{user: record("uid-1", false)}
	if err := NewFirebaseDisabler(admin, nil).DisableAccount(context.Background(), "a@b.c"); err != nil {
		t.Fatal(err)
	}
	if len(admin.updated) != 1 || admin.updated[0] != "uid-1" {
		t.Errorf("updated = %v", admin.updated)
	}
}

func TestDisableAccountSkipsDisabledUser(t *testing.T) {
	admin := &fakeAdmin{user: record("uid-1", true)}
	if err := NewFirebaseDisabler(admin, nil).DisableAccount(context.Background(), "a@b.c"); err != nil {
		t.Fatal(err)
	}
	if len(admin.updated) != 0 {
		t.Errorf("updated = %v", admin.updated)
	}
}

func TestDisableAccountLookupError(t *testing.T) {
	boom := errors.New("quota exceeded")
	admin := &fakeAdmin{lookupErr: boom}
	if err := NewFirebaseDisabler(admin, nil).DisableAccount(context.Background(), "a@b.c"); !errors.Is(err, boom) {
		t.Errorf("err = %v", err)
	}
}
