package school

import (
	"context"

	"gorm.io/gorm"
)

//go:generate mockgen -source=school_repo.go -destination=mock/school_repo_mock.go -package=mock
type Repository interface {
	FindByID(ctx context.Context, id string) (*School, error)
	ListIDs(ctx context.Context) ([]string, error)
	ListAll(ctx context.Context) ([]School, error)
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) FindByID(ctx context.Context, id string) (*School, error) {
	var s School
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&s).Error
	return &s, err
}

func (r *repository) ListIDs(ctx context.Context) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).Model(&School{}).Pluck("id", &ids).Error
	return ids, err
}

func (r *repository) ListAll(ctx context.Context) ([]School, error) {
	var rows []School
	err := r.db.WithContext(ctx).Order("name ASC").Find(&rows).Error
	return rows, err
}
