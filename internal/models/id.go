// Package models defines the records audex persists.
package models

import (
	"crypto/rand"
	"database/sql/driver"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
)

// ULID identifies a job. It sorts by creation time, is stored as its
// 26-character text form and encodes to JSON null when zero.
type ULID ulid.ULID

// NewULID returns a ULID for the current time.
func NewULID() ULID {
	return ULID(ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader))
}

// ParseULID parses the text form of a ULID.
func ParseULID(s string) (ULID, error) {
	id, err := ulid.Parse(s)
	if err != nil {
		return ULID{}, fmt.Errorf("invalid ULID: %w", err)
	}
	return ULID(id), nil
}

func (u ULID) String() string {
	return ulid.ULID(u).String()
}

// IsZero reports whether u is unset.
func (u ULID) IsZero() bool {
	return u == ULID{}
}

// Value stores the text form, or NULL when zero.
func (u ULID) Value() (driver.Value, error) {
	if u.IsZero() {
		return nil, nil
	}
	return u.String(), nil
}

// Scan reads the text form. NULL and empty values leave u zero.
func (u *ULID) Scan(value any) error {
	var s string
	switch v := value.(type) {
	case nil:
	case string:
		s = v
	case []byte:
		s = string(v)
	default:
		return fmt.Errorf("unsupported type for ULID: %T", value)
	}
	if err := u.set(s); err != nil {
		return fmt.Errorf("scanning ULID: %w", err)
	}
	return nil
}

func (u ULID) MarshalJSON() ([]byte, error) {
	if u.IsZero() {
		return []byte("null"), nil
	}
	return []byte(`"` + u.String() + `"`), nil
}

func (u *ULID) UnmarshalJSON(data []byte) error {
	s := string(data)
	if s == "null" {
		*u = ULID{}
		return nil
	}
	if len(s) < 2 || s[0] != '"' || s[len(s)-1] != '"' {
		return fmt.Errorf("invalid ULID JSON: %s", s)
	}
	if err := u.set(s[1 : len(s)-1]); err != nil {
		return fmt.Errorf("parsing ULID JSON: %w", err)
	}
	return nil
}

func (u *ULID) set(s string) error {
	if s == "" {
		*u = ULID{}
		return nil
	}
	id, err := ulid.Parse(s)
	if err != nil {
		return err
	}
	*u = ULID(id)
	return nil
}

// GormDataType returns the column type.
func (ULID) GormDataType() string {
	return "varchar(26)"
}
