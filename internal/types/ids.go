// internal/types/ids.go
package types

import (
	"strconv"

	"github.com/google/uuid"
)

type UserID string
type RunID string

func NewRunID() RunID {
	return RunID(uuid.New().String())
}

// TelegramUserID converts a numeric Telegram user ID into a UserID.
func TelegramUserID(id int64) UserID {
	return UserID(strconv.FormatInt(id, 10))
}
