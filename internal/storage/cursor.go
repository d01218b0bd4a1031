package storage

import (
	"encoding/base64"
	"fmt"
	"strings"
)

// cursorSeparator separates the display name and external id in a cursor
const cursorSeparator = "\x1f"

// DecodeCursor decodes a base64 cursor into the display name and external id
// of the last listed record. Empty cursors decode to empty strings.
func DecodeCursor(cursor string) (displayName, externalID string, err error) {
	if cursor == "" {
		return "", "", nil
	}

	decoded, err := base64.URLEncoding.DecodeString(cursor)
	if err != nil {
		return "", "", fmt.Errorf("failed to decode cursor: %w", err)
	}

	parts := strings.SplitN(string(decoded), cursorSeparator, 2)
	if len(parts) != 2 || parts[1] == "" {
		return "", "", fmt.Errorf("invalid cursor format")
	}

	return parts[0], parts[1], nil
}

// EncodeCursor encodes the position after the given record
func EncodeCursor(displayName, externalID string) string {
	return base64.URLEncoding.EncodeToString([]byte(displayName + cursorSeparator + externalID))
}

// After reports whether (displayName, externalID) sorts after the cursor position
func After(displayName, externalID, cursorName, cursorID string) bool {
	if displayName != cursorName {
		return displayName > cursorName
	}
	return externalID > cursorID
}
