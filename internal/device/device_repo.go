package device

import (
	"context"
	"time"

	"gorm.io/gorm"

	"go-school/internal/tenant"
)

//go:generate mockgen -source=device_repo.go -destination=mock/device_repo_mock.go -package=mock
type Repository interface {
	FindBySerial(ctx context.Context, schoolID, serialNumber string) (*Device, error)
	Touch(ctx context.Context, id string, seenAt time.Time) error
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) FindBySerial(ctx context.Context, schoolID, serialNumber string) (*Device, error) {
	var d Device
	err := r.db.WithContext(ctx).
		Scopes(tenant.Scope(schoolID)).
		Where("serial_number = ?", serialNumber).
		First(&d).Error
	return &d, err
}

// Touch bumps last_seen_at so the dashboard device status reflects recent
// activity. A scan from a device marked inactive reactivates it.
func (r *repository) Touch(ctx context.Context, id string, seenAt time.Time) error {
	return r.db.WithContext(ctx).
		Model(&Device{}).
		Where("id = ?", id).
		Updates(map[string]any{"last_seen_at": seenAt, "is_active": true}).Error
}
