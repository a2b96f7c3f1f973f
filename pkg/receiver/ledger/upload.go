package ledger

import "time"

// Upload is one file accepted by the receiver.
type Upload struct {
	ID          uint   `gorm:"primaryKey" json:"id"`
	UploadID    string `gorm:"not null;uniqueIndex" json:"upload_id"`
	Destination string `gorm:"not null;index" json:"destination"`
	FileName    string `json:"file_name"`
	Size        int64  `json:"size"`
	RemoteAddr  string `json:"remote_addr"`

	// Extra form fields serialized as JSON.
	FieldsJSON string `gorm:"type:text" json:"fields"`

	ReceivedAt time.Time `gorm:"index" json:"received_at"`
}
