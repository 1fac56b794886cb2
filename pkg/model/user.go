package model

import (
	"errors"

	"github.com/NicolasHaas/gochat/pkg/protocol"
)

var ErrUserIDEmpty = errors.New("user id must not be empty")
var ErrUserIDInvalidChars = errors.New("user id must be alphanumeric")
var ErrUserIDReserved = errors.New("user id is reserved")

// ValidateUserID checks that id is non-empty ASCII alphanumeric and not a
// reserved identity. Ids that pass are safe to embed in protocol lines.
func ValidateUserID(id string) error {
	if len(id) == 0 {
		return ErrUserIDEmpty
	}
	for _, r := range id {
		if (r < 'a' || r > 'z') && (r < 'A' || r > 'Z') && (r < '0' || r > '9') {
			return ErrUserIDInvalidChars
		}
	}
	if id == protocol.GroupID {
		return ErrUserIDReserved
	}
	return nil
}
