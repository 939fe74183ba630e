package rules

import (
	"context"
	"strings"

	"github.com/noah-isme/autoenrol/internal/models"
)

// legacyFieldCodes maps the numeric field selector of the old rule format.
var legacyFieldCodes = map[int]string{
	1: models.FieldAuth,
	2: models.FieldDepartment,
	3: models.FieldInstitution,
	4: models.FieldLang,
	5: models.FieldEmail,
}

// LegacyDefinition is the stored form of a single field filter.
type LegacyDefinition struct {
	FieldCode int    `json:"field_code"`
	Field     string `json:"field"`
	Value     string `json:"value"`
	SoftMatch bool   `json:"soft_match"`
}

// LegacyFieldMatch compares one profile field against a fixed value, either
// exactly or as a case-insensitive substring.
type LegacyFieldMatch struct {
	Field     string
	Value     string
	SoftMatch bool

	resolver *Resolver
}

// NewLegacyFieldMatch resolves the target field; an explicit field name wins
// over the numeric code.
func NewLegacyFieldMatch(def LegacyDefinition, resolver *Resolver) *LegacyFieldMatch {
	field := def.Field
	if field == "" || field == models.NoGroupField {
		field = legacyFieldCodes[def.FieldCode]
	}
	return &LegacyFieldMatch{Field: field, Value: def.Value, SoftMatch: def.SoftMatch, resolver: resolver}
}

// Matches returns true when no filter value is configured.
func (m *LegacyFieldMatch) Matches(ctx context.Context, user *models.User) (bool, error) {
	if m.Value == "" {
		return true, nil
	}
	if user == nil {
		return false, nil
	}
	got, err := m.resolver.Value(ctx, user, m.Field)
	if err != nil {
		return false, err
	}
	if m.SoftMatch {
		return strings.Contains(strings.ToLower(got), strings.ToLower(m.Value)), nil
	}
	return got == m.Value, nil
}
