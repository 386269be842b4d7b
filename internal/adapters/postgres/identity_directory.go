package postgres

import (
	"context"
	"fmt"
	"regexp"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

var sqlIdentifier = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*(\.[a-zA-Z_][a-zA-Z0-9_]*)?$`)

// IdentityDirectory checks identities against the user table owned by the
// authentication service, read-only.
type IdentityDirectory struct {
	db     *gorm.DB
	table  string
	column string
}

func NewIdentityDirectory(db *gorm.DB, table, column string) (*IdentityDirectory, error) {
	if !sqlIdentifier.MatchString(table) {
		return nil, fmt.Errorf("invalid identity table %q", table)
	}
	if !sqlIdentifier.MatchString(column) || len(column) > 63 {
		return nil, fmt.Errorf("invalid identity column %q", column)
	}
	return &IdentityDirectory{db: db, table: table, column: column}, nil
}

func (d *IdentityDirectory) Exists(ctx context.Context, identity uuid.UUID) (bool, error) {
	if identity == uuid.Nil {
		return false, nil
	}
	var exists bool
	err := d.db.WithContext(ctx).
		Raw(fmt.Sprintf("SELECT EXISTS (SELECT 1 FROM %s WHERE %s = ?)", d.table, d.column), identity).
		Scan(&exists).Error
	if err != nil {
		return false, err
	}
	return exists, nil
}
