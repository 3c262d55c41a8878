package repository

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/turbotransfer/host/internal/model"
)

type BlocklistRepository interface {
	Add(ctx context.Context, device model.BlockedDevice) error
	FindByFingerprint(ctx context.Context, fingerprint string) (*model.BlockedDevice, error)
	List(ctx context.Context) ([]model.BlockedDevice, error)
	Delete(ctx context.Context, fingerprint string) (bool, error)
}

type blocklistRepo struct {
	db *sqlx.DB
}

func NewBlocklistRepository(db *sqlx.DB) BlocklistRepository {
	return &blocklistRepo{db: db}
}

func (r *blocklistRepo) Add(ctx context.Context, device model.BlockedDevice) error {
	query := r.db.Rebind(`
		INSERT INTO blocked_devices (fingerprint, device_name, blocked_at)
		VALUES (?, ?, ?)
		ON CONFLICT (fingerprint) DO UPDATE
		SET device_name = excluded.device_name, blocked_at = excluded.blocked_at
	`)
	_, err := r.db.ExecContext(ctx, query, device.Fingerprint, device.DeviceName, device.BlockedAt.UTC())
	return err
}

func (r *blocklistRepo) FindByFingerprint(ctx context.Context, fingerprint string) (*model.BlockedDevice, error) {
	var device model.BlockedDevice
	query := r.db.Rebind(`SELECT * FROM blocked_devices WHERE fingerprint = ?`)
	err := r.db.GetContext(ctx, &device, query, fingerprint)
	return HandleNotFound(&device, err)
}

func (r *blocklistRepo) List(ctx context.Context) ([]model.BlockedDevice, error) {
	var devices []model.BlockedDevice
	err := r.db.SelectContext(ctx, &devices, `
		SELECT * FROM blocked_devices ORDER BY blocked_at DESC
	`)
	if err != nil {
		return nil, err
	}
	return devices, nil
}

func (r *blocklistRepo) Delete(ctx context.Context, fingerprint string) (bool, error) {
	query := r.db.Rebind(`DELETE FROM blocked_devices WHERE fingerprint = ?`)
	result, err := r.db.ExecContext(ctx, query, fingerprint)
	if err != nil {
		return false, err
	}
	n, err := result.RowsAffected()
	return n > 0, err
}
