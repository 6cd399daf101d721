// Package pgstore keeps lockout accounts, status labels and settings in
// PostgreSQL through gorm.
package pgstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"signalement-platform/pkg/lockout"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type User struct {
	ID                  string     `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	Email               string     `gorm:"uniqueIndex;not null" json:"email"`
	FailedLoginAttempts int        `gorm:"not null;default:0" json:"failed_login_attempts"`
	StatutsUserID       int64      `gorm:"column:statuts_user_id;not null" json:"statuts_user_id"`
	BlockedAt           *time.Time `json:"blocked_at,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

func (User) TableName() string { return "users" }

type StatutUser struct {
	ID      int64  `gorm:"primaryKey" json:"id"`
	Libelle string `gorm:"uniqueIndex;not null" json:"libelle"`
}

func (StatutUser) TableName() string { return "statuts_user" }

// RegleGestion is a business rule; valeur is kept as text.
type RegleGestion struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Libelle   string    `gorm:"uniqueIndex;not null" json:"libelle"`
	Valeur    string    `gorm:"not null" json:"valeur"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (RegleGestion) TableName() string { return "regles_gestion" }

// Migrate creates the tables and seeds the max-attempts rule and the
// default status labels. Existing rows are kept.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&User{}, &StatutUser{}, &RegleGestion{}); err != nil {
		return err
	}
	labels := []StatutUser{
		{ID: 1, Libelle: lockout.LabelActive},
		{ID: 2, Libelle: lockout.LabelBlocked},
		{ID: 3, Libelle: lockout.LabelInactive},
	}
	if err := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&labels).Error; err != nil {
		return err
	}
	rule := RegleGestion{Libelle: lockout.RuleMaxAttempts, Valeur: strconv.Itoa(lockout.DefaultMaxAttempts)}
	return db.Clauses(clause.OnConflict{DoNothing: true}).Create(&rule).Error
}

// Store implements lockout.AtomicAccountStore and lockout.Settings.
type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) FindByEmail(ctx context.Context, email string) (*lockout.Account, error) {
	var u User
	err := s.db.WithContext(ctx).Where("email = ?", email).First(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, lockout.ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}
	acc := toAccount(u)
	return &acc, nil
}

func (s *Store) Create(ctx context.Context, acc *lockout.Account) error {
	u := fromAccount(acc)
	if err := s.db.WithContext(ctx).Create(&u).Error; err != nil {
		return err
	}
	acc.ID = u.ID
	return nil
}

func (s *Store) Save(ctx context.Context, acc *lockout.Account) error {
	res := s.db.WithContext(ctx).Model(&User{ID: acc.ID}).Updates(updates(acc))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return lockout.ErrAccountNotFound
	}
	return nil
}

// Mutate locks the account row with SELECT ... FOR UPDATE for the whole
// read-modify-write.
func (s *Store) Mutate(ctx context.Context, email string, seed lockout.Account, fn func(acc *lockout.Account) error) (*lockout.Account, error) {
	var result lockout.Account
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var u User
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("email = ?", email).First(&u).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			acc := seed
			acc.Email = email
			if err := fn(&acc); err != nil {
				return err
			}
			row := fromAccount(&acc)
			if err := tx.Create(&row).Error; err != nil {
				return fmt.Errorf("create account: %w", err)
			}
			result = toAccount(row)
			return nil
		}
		if err != nil {
			return err
		}

		acc := toAccount(u)
		if err := fn(&acc); err != nil {
			return err
		}
		if err := tx.Model(&User{ID: acc.ID}).Updates(updates(&acc)).Error; err != nil {
			return err
		}
		result = acc
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

func (s *Store) MaxAttempts(ctx context.Context) (int, error) {
	var rule RegleGestion
	err := s.db.WithContext(ctx).Where("libelle = ?", lockout.RuleMaxAttempts).First(&rule).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, lockout.ErrSettingNotFound
	}
	if err != nil {
		return 0, err
	}
	return parseMaxAttempts(rule.Valeur)
}

func parseMaxAttempts(valeur string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(valeur))
	if err != nil {
		return 0, fmt.Errorf("%w: %s = %q", lockout.ErrSettingInvalid, lockout.RuleMaxAttempts, valeur)
	}
	return n, nil
}

func (s *Store) StatusID(ctx context.Context, label string) (int64, error) {
	var st StatutUser
	err := s.db.WithContext(ctx).Where("libelle = ?", label).First(&st).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, lockout.ErrLabelNotFound
	}
	if err != nil {
		return 0, err
	}
	return st.ID, nil
}

func toAccount(u User) lockout.Account {
	return lockout.Account{
		ID:                  u.ID,
		Email:               u.Email,
		FailedLoginAttempts: u.FailedLoginAttempts,
		StatusID:            u.StatutsUserID,
		BlockedAt:           u.BlockedAt,
		CreatedAt:           u.CreatedAt,
		UpdatedAt:           u.UpdatedAt,
	}
}

func fromAccount(acc *lockout.Account) User {
	return User{
		ID:                  acc.ID,
		Email:               acc.Email,
		FailedLoginAttempts: acc.FailedLoginAttempts,
		StatutsUserID:       acc.StatusID,
		BlockedAt:           acc.BlockedAt,
		CreatedAt:           acc.CreatedAt,
		UpdatedAt:           acc.UpdatedAt,
	}
}

// updates lists columns explicitly so zero values are written too.
func updates(acc *lockout.Account) map[string]any {
	return map[string]any{
		"failed_login_attempts": acc.FailedLoginAttempts,
		"statuts_user_id":       acc.StatusID,
		"blocked_at":            acc.BlockedAt,
		"updated_at":            acc.UpdatedAt,
	}
}
