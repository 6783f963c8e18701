package repository

import (
	"errors"
	"strings"

	"gorm.io/gorm"
)

// ErrDuplicate indicates an insert collided with a uniqueness constraint.
var ErrDuplicate = errors.New("duplicate record")

// IsNotFound reports whether err means the record does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}

// translate maps driver constraint violations onto ErrDuplicate. The
// connection is opened with TranslateError, the string checks cover drivers
// that do not translate.
func translate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrDuplicate
	}
	message := strings.ToLower(err.Error())
	if strings.Contains(message, "unique constraint") || strings.Contains(message, "duplicate key") {
		return ErrDuplicate
	}
	return err
}
