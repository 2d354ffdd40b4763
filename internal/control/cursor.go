package control

import (
	"encoding/base64"
	"fmt"
	"strconv"
)

// DecodeEventCursor returns the event id a listing continues after.
// An empty cursor starts from the beginning.
func DecodeEventCursor(cursor string) (int64, error) {
	if cursor == "" {
		return 0, nil
	}

	decoded, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return 0, fmt.Errorf("invalid cursor encoding: %w", err)
	}

	id, err := strconv.ParseInt(string(decoded), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid event id in cursor %q", decoded)
	}
	return id, nil
}

// EncodeEventCursor builds the cursor of the page following eventID
func EncodeEventCursor(eventID int64) string {
	return base64.RawURLEncoding.EncodeToString([]byte(strconv.FormatInt(eventID, 10)))
}
