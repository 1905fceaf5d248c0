package handler

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/cuongbtq/post-scheduler/internal/api/storage"
)

func DecodePostCursor(cursorStr string) (*storage.PostCursor, error) {
	if cursorStr == "" {
		return nil, nil
	}

	decoded, err := base64.URLEncoding.DecodeString(cursorStr)
	if err != nil {
		return nil, err
	}

	decodedParts := strings.SplitN(string(decoded), "|", 2)
	if len(decodedParts) != 2 || decodedParts[1] == "" {
		return nil, fmt.Errorf("invalid cursor format")
	}

	var scheduledAt int64
	_, err = fmt.Sscanf(decodedParts[0], "%d", &scheduledAt)
	if err != nil {
		return nil, fmt.Errorf("invalid scheduled time in cursor: %w", err)
	}

	return &storage.PostCursor{
		ScheduledTime: time.Unix(0, scheduledAt).UTC(),
		PostID:        decodedParts[1],
	}, nil
}

func EncodePostCursor(cursor *storage.PostCursor) string {
	cs := fmt.Sprintf("%d|%s", cursor.ScheduledTime.UnixNano(), cursor.PostID)
	return base64.URLEncoding.EncodeToString([]byte(cs))
}
