package model

type (
	ErrorResponse struct {
		Error string `json:"error"`
	}

	SuccessResponse struct {
		Success bool `json:"success"`
	}

	// Notification is pushed over the websocket when a recipient's mailbox
	// receives a new envelope. It never carries envelope content.
	Notification struct {
		Type        string `json:"type"`
		RecipientID string `json:"recipientId"`
	}
)

const NotificationMailbox = "mailbox"
