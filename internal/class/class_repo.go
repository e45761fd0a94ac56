package class

import (
	"context"

	"go-school/internal/status"
	"go-school/internal/tenant"

	"gorm.io/gorm"
)

// Schedule is the read-side projection every aggregate consumer needs.
type Schedule struct {
	ID        string
	Name      string
	StartTime *string
	EndTime   *string
}

// Window converts a Schedule into the resolver's schedule slice.
func (s Schedule) Window() status.ClassWindow {
	w := status.ClassWindow{ID: s.ID}
	if s.StartTime != nil {
		w.StartTime = *s.StartTime
	}
	if s.EndTime != nil {
		w.EndTime = *s.EndTime
	}
	return w
}

//go:generate mockgen -source=class_repo.go -destination=mock/class_repo_mock.go -package=mock
type Repository interface {
	FindByID(ctx context.Context, id string) (*Class, error)
	ListSchedules(ctx context.Context, schoolID string) ([]Schedule, error)
	TeacherClassIDs(ctx context.Context, teacherID string) ([]string, error)
	TeacherAssigned(ctx context.Context, teacherID, classID string) (bool, error)
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) FindByID(ctx context.Context, id string) (*Class, error) {
	var c Class
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&c).Error
	return &c, err
}

func (r *repository) ListSchedules(ctx context.Context, schoolID string) ([]Schedule, error) {
	var rows []Schedule
	err := r.db.WithContext(ctx).
		Model(&Class{}).
		Select("id", "name", "start_time", "end_time").
		Scopes(tenant.Scope(schoolID)).
		Find(&rows).Error
	return rows, err
}

func (r *repository) TeacherClassIDs(ctx context.Context, teacherID string) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).
		Model(&TeacherClass{}).
		Where("teacher_id = ?", teacherID).
		Pluck("class_id", &ids).Error
	return ids, err
}

func (r *repository) TeacherAssigned(ctx context.Context, teacherID, classID string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&TeacherClass{}).
		Where("teacher_id = ? AND class_id = ?", teacherID, classID).
		Count(&count).Error
	return count > 0, err
}
