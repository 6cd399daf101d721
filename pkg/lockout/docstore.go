package lockout

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"signalement-platform/pkg/docstore"

	"github.com/google/uuid"
)

// Collections and fields used by the document-backed implementations.
const (
	UsersCollection        = "users"
	StatusLabelsCollection = "statuts_user"
	RulesCollection        = "regles_gestion"

	// RuleMaxAttempts is the libelle of the business rule holding the
	// maximum number of failed logins.
	RuleMaxAttempts = "Nombre_tentative_connexion"

	fieldEmail     = "email"
	fieldAttempts  = "failed_login_attempts"
	fieldStatusID  = "statuts_user_id"
	fieldBlockedAt = "blocked_at"
	fieldCreatedAt = "created_at"
	fieldUpdatedAt = "updated_at"
	fieldLabel     = "libelle"
	fieldLabelID   = "id"
	fieldValue     = "valeur"
)

// DocAccounts stores accounts in the users collection of a document store.
type DocAccounts struct {
	store docstore.Store
}

func NewDocAccounts(store docstore.Store) *DocAccounts {
	return &DocAccounts{store: store}
}

func (d *DocAccounts) FindByEmail(ctx context.Context, email string) (*Account, error) {
	docs, err := d.store.Query(ctx, UsersCollection, docstore.Eq(fieldEmail, email))
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, ErrAccountNotFound
	}
	acc := accountFromDoc(docs[0])
	return &acc, nil
}

func (d *DocAccounts) Create(ctx context.Context, acc *Account) error {
	id, err := d.store.Add(ctx, UsersCollection, accountFields(acc, true))
	if err != nil {
		return err
	}
	acc.ID = id
	return nil
}

func (d *DocAccounts) Save(ctx context.Context, acc *Account) error {
	if acc.ID == "" {
		return errors.New("account has no id")
	}
	err := d.store.Update(ctx, UsersCollection, acc.ID, accountFields(acc, false))
	if errors.Is(err, docstore.ErrNotFound) {
		return ErrAccountNotFound
	}
	return err
}

// Mutate runs fn and the write inside one store transaction. An account
// first seen here is created under an id derived from the email, so
// concurrent first failures for the same email conflict in the store
// instead of creating two documents.
func (d *DocAccounts) Mutate(ctx context.Context, email string, seed Account, fn func(acc *Account) error) (*Account, error) {
	id := AccountDocID(email)
	found, err := d.FindByEmail(ctx, email)
	switch {
	case err == nil:
		id = found.ID
	case !errors.Is(err, ErrAccountNotFound):
		return nil, err
	}

	var result Account
	err = d.store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		doc, exists, err := tx.Get(UsersCollection, id)
		if err != nil {
			return err
		}
		acc := seed
		create := !exists
		if exists {
			acc = accountFromDoc(doc)
		} else {
			now := time.Now()
			acc.ID = id
			acc.Email = email
			acc.CreatedAt = now
			acc.UpdatedAt = now
		}
		if err := fn(&acc); err != nil {
			return err
		}
		result = acc
		return tx.Set(UsersCollection, id, accountFields(&acc, create), !create)
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// AccountDocID is the document id given to accounts created inside a
// transaction.
func AccountDocID(email string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("mailto:"+email)).String()
}

func accountFromDoc(doc docstore.Doc) Account {
	acc := Account{ID: doc.ID}
	acc.Email, _ = docstore.String(doc.Data, fieldEmail)
	if n, ok := docstore.Int(doc.Data, fieldAttempts); ok {
		acc.FailedLoginAttempts = int(n)
	}
	acc.StatusID, _ = docstore.Int(doc.Data, fieldStatusID)
	if t, ok := docstore.Time(doc.Data, fieldBlockedAt); ok {
		acc.BlockedAt = &t
	}
	acc.CreatedAt, _ = docstore.Time(doc.Data, fieldCreatedAt)
	acc.UpdatedAt, _ = docstore.Time(doc.Data, fieldUpdatedAt)
	return acc
}

func accountFields(acc *Account, create bool) map[string]any {
	fields := map[string]any{
		fieldEmail:     acc.Email,
		fieldAttempts:  int64(acc.FailedLoginAttempts),
		fieldStatusID:  acc.StatusID,
		fieldUpdatedAt: acc.UpdatedAt,
	}
	if acc.BlockedAt != nil {
		fields[fieldBlockedAt] = *acc.BlockedAt
	}
	if create {
		fields[fieldCreatedAt] = acc.CreatedAt
	}
	return fields
}

// DocSettings reads the lockout configuration record and the status label
// collection from a document store.
type DocSettings struct {
	store docstore.Store
}

func NewDocSettings(store docstore.Store) *DocSettings {
	return &DocSettings{store: store}
}

// MaxAttempts reads the valeur of the Nombre_tentative_connexion rule.
// The value is stored as a string.
func (d *DocSettings) MaxAttempts(ctx context.Context) (int, error) {
	docs, err := d.store.Query(ctx, RulesCollection, docstore.Eq(fieldLabel, RuleMaxAttempts))
	if err != nil {
		return 0, err
	}
	if len(docs) == 0 {
		return 0, ErrSettingNotFound
	}
	raw, _ := docstore.Lookup(docs[0].Data, fieldValue)
	n, ok := docstore.AsInt(raw)
	if !ok {
		return 0, fmt.Errorf("%w: %s = %v", ErrSettingInvalid, RuleMaxAttempts, raw)
	}
	return int(n), nil
}

func (d *DocSettings) StatusID(ctx context.Context, label string) (int64, error) {
	docs, err := d.store.Query(ctx, StatusLabelsCollection, docstore.Eq(fieldLabel, label))
	if err != nil {
		return 0, err
	}
	for _, doc := range docs {
		if id, ok := docstore.Int(doc.Data, fieldLabelID); ok {
			return id, nil
		}
	}
	return 0, ErrLabelNotFound
}

// Seed creates the max-attempts rule and the status labels when they are
// missing. Existing records are left as they are.
func Seed(ctx context.Context, store docstore.Store) error {
	rule := map[string]any{fieldLabel: RuleMaxAttempts, fieldValue: strconv.Itoa(DefaultMaxAttempts)}
	if err := seedByLabel(ctx, store, RulesCollection, RuleMaxAttempts, rule); err != nil {
		return err
	}
	for _, label := range []string{LabelActive, LabelBlocked, LabelInactive} {
		status := map[string]any{fieldLabelID: fallbackStatusIDs[label], fieldLabel: label}
		if err := seedByLabel(ctx, store, StatusLabelsCollection, label, status); err != nil {
			return err
		}
	}
	return nil
}

func seedByLabel(ctx context.Context, store docstore.Store, collection, label string, data map[string]any) error {
	docs, err := store.Query(ctx, collection, docstore.Eq(fieldLabel, label))
	if err != nil {
		return fmt.Errorf("seed %s/%s: %w", collection, label, err)
	}
	if len(docs) > 0 {
		return nil
	}
	data[fieldUpdatedAt] = time.Now()
	if _, err := store.Add(ctx, collection, data); err != nil {
		return fmt.Errorf("seed %s/%s: %w", collection, label, err)
	}
	return nil
}
