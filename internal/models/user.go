package models

import (
	"strings"
	"time"
)

// Standard profile attributes a rule or group may read directly from User.
const (
	FieldAuth        = "auth"
	FieldLang        = "lang"
	FieldDepartment  = "department"
	FieldInstitution = "institution"
	FieldAddress     = "address"
	FieldCity        = "city"
	FieldEmail       = "email"
)

// StandardFields lists the attributes served from the user record; anything
// else is a custom profile field.
var StandardFields = []string{FieldAuth, FieldLang, FieldDepartment, FieldInstitution, FieldAddress, FieldCity, FieldEmail}

// User is the subset of the host platform user record the engine reads.
type User struct {
	ID          string     `db:"id" json:"id"`
	Username    string     `db:"username" json:"username"`
	Auth        string     `db:"auth" json:"auth"`
	Lang        string     `db:"lang" json:"lang"`
	Department  string     `db:"department" json:"department"`
	Institution string     `db:"institution" json:"institution"`
	Address     string     `db:"address" json:"address"`
	City        string     `db:"city" json:"city"`
	Email       string     `db:"email" json:"email"`
	FirstName   string     `db:"first_name" json:"first_name"`
	LastName    string     `db:"last_name" json:"last_name"`
	Deleted     bool       `db:"deleted" json:"deleted"`
	Suspended   bool       `db:"suspended" json:"suspended"`
	SiteAdmin   bool       `db:"site_admin" json:"site_admin"`
	LastLogin   *time.Time `db:"last_login" json:"last_login,omitempty"`
}

// IsGuest reports whether the account is the site guest.
func (u *User) IsGuest(guestUsername string) bool {
	return u == nil || u.ID == "" || (guestUsername != "" && u.Username == guestUsername)
}

// FullName joins first and last name.
func (u *User) FullName() string {
	if u == nil {
		return ""
	}
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

// IsStandardField reports whether name is served from the user record.
func IsStandardField(name string) bool {
	for _, f := range StandardFields {
		if f == name {
			return true
		}
	}
	return false
}

// StandardField returns the named attribute and whether it is a standard one.
// A nil user yields empty values.
func (u *User) StandardField(name string) (string, bool) {
	if !IsStandardField(name) {
		return "", false
	}
	if u == nil {
		return "", true
	}
	switch name {
	case FieldAuth:
		return u.Auth, true
	case FieldLang:
		return u.Lang, true
	case FieldDepartment:
		return u.Department, true
	case FieldInstitution:
		return u.Institution, true
	case FieldAddress:
		return u.Address, true
	case FieldCity:
		return u.City, true
	default:
		return u.Email, true
	}
}
