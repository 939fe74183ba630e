package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// ProfileRepository reads custom profile field values.
type ProfileRepository struct {
	db *sqlx.DB
}

// NewProfileRepository constructs the repository.
func NewProfileRepository(db *sqlx.DB) *ProfileRepository {
	return &ProfileRepository{db: db}
}

type profileValue struct {
	ShortName string `db:"short_name"`
	Data      string `db:"data"`
}

// CustomFields returns the user's custom profile values keyed by field short name.
// Fields the user never filled in are absent from the map.
func (r *ProfileRepository) CustomFields(ctx context.Context, userID string) (map[string]string, error) {
	const query = `SELECT f.short_name, d.data FROM user_info_data d
        JOIN user_info_fields f ON f.id = d.field_id
        WHERE d.user_id = $1`
	var values []profileValue
	if err := r.db.SelectContext(ctx, &values, query, userID); err != nil {
		return nil, fmt.Errorf("load profile fields: %w", err)
	}
	fields := make(map[string]string, len(values))
	for _, v := range values {
		fields[v.ShortName] = v.Data
	}
	return fields, nil
}
