// Package models defines the GORM records behind the export history.
package models

import (
	"crypto/rand"
	"database/sql/driver"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"gorm.io/gorm"
)

// ULID identifies a history record. IDs sort by creation time, so listing
// newest-first needs no extra index.
type ULID ulid.ULID

// NewULID returns a ULID stamped with the current time.
func NewULID() ULID {
	return ULID(ulid.MustNew(ulid.Now(), rand.Reader))
}

// ParseULID parses the 26 character Crockford form.
func ParseULID(s string) (ULID, error) {
	id, err := ulid.ParseStrict(s)
	if err != nil {
		return ULID{}, fmt.Errorf("invalid ULID %q: %w", s, err)
	}
	return ULID(id), nil
}

func (u ULID) String() string { return ulid.ULID(u).String() }

// IsZero reports whether u is unset.
func (u ULID) IsZero() bool { return u == ULID{} }

// MarshalText encodes a zero ULID as empty text.
func (u ULID) MarshalText() ([]byte, error) {
	if u.IsZero() {
		return nil, nil
	}
	return ulid.ULID(u).MarshalText()
}

// UnmarshalText accepts empty text as the zero ULID.
func (u *ULID) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*u = ULID{}
		return nil
	}
	parsed, err := ParseULID(string(text))
	if err != nil {
		return err
	}
	*u = parsed
	return nil
}

// MarshalJSON writes null for a zero ULID.
func (u ULID) MarshalJSON() ([]byte, error) {
	if u.IsZero() {
		return []byte("null"), nil
	}
	return fmt.Appendf(nil, "%q", u.String()), nil
}

// UnmarshalJSON accepts a quoted ULID, an empty string or null.
func (u *ULID) UnmarshalJSON(data []byte) error {
	s := string(data)
	if s == "null" {
		*u = ULID{}
		return nil
	}
	if len(s) < 2 || s[0] != '"' || s[len(s)-1] != '"' {
		return fmt.Errorf("invalid ULID JSON: %s", s)
	}
	return u.UnmarshalText(data[1 : len(data)-1])
}

// Value stores the ULID as text; a zero ULID is NULL.
func (u ULID) Value() (driver.Value, error) {
	if u.IsZero() {
		return nil, nil
	}
	return u.String(), nil
}

// Scan reads text or NULL back into a ULID.
func (u *ULID) Scan(value any) error {
	switch v := value.(type) {
	case nil:
		*u = ULID{}
		return nil
	case string:
		return u.UnmarshalText([]byte(v))
	case []byte:
		return u.UnmarshalText(v)
	default:
		return fmt.Errorf("unsupported type for ULID: %T", value)
	}
}

func (ULID) GormDataType() string {
	return "varchar(26)"
}

// BaseModel carries the ID and timestamps shared by every record. Rows are
// hard-deleted; retention owns their lifetime.
type BaseModel struct {
	ID        ULID      `gorm:"primarykey;type:varchar(26)" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BeforeCreate assigns an ID to records created without one.
func (b *BaseModel) BeforeCreate(*gorm.DB) error {
	if b.ID.IsZero() {
		b.ID = NewULID()
	}
	return nil
}
