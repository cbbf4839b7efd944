package models

import "time"

// Device is a registered capture device. SecretHash is a bcrypt hash of the
// device secret; the secret itself is never stored.
type Device struct {
	ID         string
	Name       string
	SecretHash []byte
	CreatedAt  time.Time
}
