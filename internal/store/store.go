// Package store keeps the transfer ledger.
package store

import (
	"context"
	"time"

	"gorm.io/gorm"
)

// TransferRepository defines ledger operations.
type TransferRepository interface {
	Record(ctx context.Context, t *Transfer) error
	List(ctx context.Context, limit int) ([]Transfer, error)
	ByName(ctx context.Context, name string) ([]Transfer, error)
}

type TransferStore struct {
	DB *gorm.DB
}

func NewTransferStore(db *gorm.DB) *TransferStore {
	return &TransferStore{DB: db}
}

func (ts *TransferStore) Record(ctx context.Context, t *Transfer) error {
	if t.CreatedAt == 0 {
		t.CreatedAt = time.Now().Unix()
	}
	return ts.DB.WithContext(ctx).Create(t).Error
}

// List returns the most recent transfers first. limit <= 0 means all.
func (ts *TransferStore) List(ctx context.Context, limit int) ([]Transfer, error) {
	transfers := []Transfer{}
	q := ts.DB.WithContext(ctx).Order("created_at desc, id desc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&transfers).Error; err != nil {
		return nil, err
	}
	return transfers, nil
}

func (ts *TransferStore) ByName(ctx context.Context, name string) ([]Transfer, error) {
	transfers := []Transfer{}
	err := ts.DB.WithContext(ctx).
		Where("name = ?", name).
		Order("created_at desc, id desc").
		Find(&transfers).Error
	if err != nil {
		return nil, err
	}
	return transfers, nil
}
