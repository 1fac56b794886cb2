package client

import (
	"errors"
	"regexp"
	"strconv"

	"github.com/NicolasHaas/gochat/pkg/model"
)

// ValidationError is a login input problem detected before any network I/O.
// Its text is meant to be shown to the user as-is.
type ValidationError string

func (e ValidationError) Error() string { return string(e) }

const (
	ErrFieldsRequired        ValidationError = "all fields are required"
	ErrUserIDNotAlphanumeric ValidationError = "user id must be alphanumeric"
	ErrUserIDReserved        ValidationError = "user id is reserved"
	ErrInvalidHost           ValidationError = "invalid IP address"
	ErrPortNotNumber         ValidationError = "port must be a number"
	ErrPortOutOfRange        ValidationError = "port must be between 1 and 65535"
)

var ipv4Pattern = regexp.MustCompile(`^((25[0-5]|(2[0-4]|1\d|[1-9]|)\d)\.?\b){4}$`)

// Validate checks the connect inputs. host must be "localhost" or a dotted
// quad; port must be a number in 1-65535.
func Validate(userID, host, port string) error {
	if userID == "" || host == "" || port == "" {
		return ErrFieldsRequired
	}

	switch err := model.ValidateUserID(userID); {
	case errors.Is(err, model.ErrUserIDReserved):
		return ErrUserIDReserved
	case err != nil:
		return ErrUserIDNotAlphanumeric
	}

	if host != "localhost" && !ipv4Pattern.MatchString(host) {
		return ErrInvalidHost
	}

	n, err := strconv.Atoi(port)
	if err != nil {
		return ErrPortNotNumber
	}
	if n < 1 || n > 65535 {
		return ErrPortOutOfRange
	}
	return nil
}
