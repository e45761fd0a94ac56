package student

import (
	"context"

	"gorm.io/gorm"

	"go-school/internal/tenant"
)

// ClassCount is one row of a per-class active-student count. ClassID is nil
// for students not assigned to any class.
type ClassCount struct {
	ClassID *string
	Count   int
}

//go:generate mockgen -source=student_repo.go -destination=mock/student_repo_mock.go -package=mock
type Repository interface {
	FindByDeviceID(ctx context.Context, schoolID, deviceStudentID string) (*Student, error)
	CountByClass(ctx context.Context, schoolID string, classIDs []string) ([]ClassCount, error)
	CountActive(ctx context.Context, schoolID string, classIDs []string) (int, error)
	SetPhotoURL(ctx context.Context, id, url string) error
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) FindByDeviceID(ctx context.Context, schoolID, deviceStudentID string) (*Student, error) {
	var s Student
	err := r.db.WithContext(ctx).
		Scopes(tenant.Scope(schoolID)).
		Where("device_student_id = ?", deviceStudentID).
		First(&s).Error
	return &s, err
}

func (r *repository) CountByClass(ctx context.Context, schoolID string, classIDs []string) ([]ClassCount, error) {
	if len(classIDs) == 0 {
		return nil, nil
	}
	var rows []ClassCount
	err := r.db.WithContext(ctx).
		Model(&Student{}).
		Select("class_id AS class_id, COUNT(*) AS count").
		Scopes(tenant.Scope(schoolID)).
		Where("is_active = true AND class_id IN ?", classIDs).
		Group("class_id").
		Find(&rows).Error
	return rows, err
}

func (r *repository) CountActive(ctx context.Context, schoolID string, classIDs []string) (int, error) {
	if len(classIDs) == 0 {
		return 0, nil
	}
	var count int64
	err := r.db.WithContext(ctx).
		Model(&Student{}).
		Scopes(tenant.Scope(schoolID)).
		Where("is_active = true AND class_id IN ?", classIDs).
		Count(&count).Error
	return int(count), err
}

func (r *repository) SetPhotoURL(ctx context.Context, id, url string) error {
	return r.db.WithContext(ctx).
		Model(&Student{}).
		Where("id = ?", id).
		Update("photo_url", url).Error
}
