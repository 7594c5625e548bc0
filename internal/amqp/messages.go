package amqp

import (
	"encoding/json"
	"time"
)

// BillFinalizedMessage tells the delivery worker that a bill was frozen.
// It carries only the bill ID, the worker loads the snapshot from storage.
type BillFinalizedMessage struct {
	BillID    int64     `json:"bill_id"`
	Timestamp time.Time `json:"timestamp"`
}

func NewBillFinalizedMessage(billID int64) *BillFinalizedMessage {
	return &BillFinalizedMessage{
		BillID:    billID,
		Timestamp: time.Now(),
	}
}

// ToJSON converts the message to JSON bytes
func (m *BillFinalizedMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// BillFinalizedMessageFromJSON creates a message from JSON bytes
func BillFinalizedMessageFromJSON(data []byte) (*BillFinalizedMessage, error) {
	var msg BillFinalizedMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
