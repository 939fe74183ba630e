package models

// Course is the subset of a host course the engine needs for messages and names.
type Course struct {
	ID        string `db:"id" json:"id"`
	FullName  string `db:"full_name" json:"full_name"`
	ShortName string `db:"short_name" json:"short_name"`
}

// Contact identifies a message sender.
type Contact struct {
	UserID  string `db:"user_id" json:"user_id,omitempty"`
	Name    string `db:"name" json:"name"`
	Email   string `db:"email" json:"email"`
	NoReply bool   `db:"-" json:"no_reply"`
}
