package model

import (
	"encoding/json"
	"fmt"

	"github.com/iamyasumichi/only-one/internal/outline"
)

// EncodeCollection serializes memos in the local cache format.
func EncodeCollection(memos []Memo) ([]byte, error) {
	if memos == nil {
		memos = []Memo{}
	}
	b, err := json.Marshal(memos)
	if err != nil {
		return nil, fmt.Errorf("encode memos: %w", err)
	}
	return b, nil
}

// DecodeCollection parses the local cache format. A JSON null decodes to an empty collection.
func DecodeCollection(b []byte) ([]Memo, error) {
	var memos []Memo
	if err := json.Unmarshal(b, &memos); err != nil {
		return nil, fmt.Errorf("decode memos: %w", err)
	}
	if memos == nil {
		memos = []Memo{}
	}
	return memos, nil
}

// CreateMemoRequest is the body of a create call. Zero timestamps are filled in by the server.
type CreateMemoRequest struct {
	Title     string         `json:"title"`
	Items     []outline.Item `json:"items"`
	CreatedAt int64          `json:"createdAt"`
	UpdatedAt int64          `json:"updatedAt"`
}

// CreateMemoResponse is returned by the sync server after an insert.
type CreateMemoResponse struct {
	ID string `json:"id"`
}

// TokenResponse carries an identity issued by the sync server.
type TokenResponse struct {
	Token  string `json:"token"`
	UserID string `json:"user_id"`
}
