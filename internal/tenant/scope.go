package tenant

import "gorm.io/gorm"

// Scope restricts a query to one school's rows. Every multi-tenant table
// carries school_id, so repositories never cross tenants by accident.
func Scope(schoolID string) func(db *gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where("school_id = ?", schoolID)
	}
}
