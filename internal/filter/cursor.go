package filter

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"time"

	"github.com/mpontes/wavault/internal/store"
)

// ErrInvalidCursor marks a pagination token that cannot be decoded.
var ErrInvalidCursor = errors.New("invalid cursor")

// cursorPayload is the wire form of a cursor. The token is opaque to
// callers; only the shape of the encoded key is fixed.
type cursorPayload struct {
	Timestamp string `json:"ts"`
	ID        string `json:"id"`
}

// EncodeCursor encodes the last-seen sort key as an opaque token.
func EncodeCursor(key store.Key) string {
	payload, _ := json.Marshal(cursorPayload{
		Timestamp: key.Timestamp.UTC().Format(time.RFC3339Nano),
		ID:        key.ID,
	})
	return base64.URLEncoding.EncodeToString(payload)
}

// DecodeCursor parses a token produced by EncodeCursor. An empty token means
// "start from the beginning" and returns a nil key.
func DecodeCursor(token string) (*store.Key, error) {
	if token == "" {
		return nil, nil
	}

	raw, err := base64.URLEncoding.DecodeString(token)
	if err != nil {
		return nil, ErrInvalidCursor
	}
	var payload cursorPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, ErrInvalidCursor
	}
	ts, err := time.Parse(time.RFC3339Nano, payload.Timestamp)
	if err != nil || payload.ID == "" {
		return nil, ErrInvalidCursor
	}

	return &store.Key{Timestamp: ts.UTC(), ID: payload.ID}, nil
}
