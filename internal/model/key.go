package model

import (
	"encoding/json"
	"time"
)

type (
	// DirectoryEntry is the server-side record of a user's current public key.
	DirectoryEntry struct {
		Identity  string          `json:"userId"`
		PublicKey json.RawMessage `json:"publicKey"`
		UpdatedAt time.Time       `json:"updatedAt"`
	}

	KeyUploadRequest struct {
		UserID    string          `json:"userId"`
		PublicKey json.RawMessage `json:"publicKey"`
	}

	KeyResponse struct {
		PublicKey json.RawMessage `json:"publicKey"`
	}
)
