package amqp

import (
	"encoding/json"
	"time"
)

// PeriodClosedMessage announces that a period was closed and its balance
// sheet finalized. It carries only the period id; consumers fetch the sheet
// from the ledger, so a reopen-and-reclose between publish and consume is
// harmless.
type PeriodClosedMessage struct {
	PeriodID  int64     `json:"period_id"`
	Timestamp time.Time `json:"timestamp"`
}

func NewPeriodClosedMessage(periodID int64) *PeriodClosedMessage {
	return &PeriodClosedMessage{
		PeriodID:  periodID,
		Timestamp: time.Now(),
	}
}

func (m *PeriodClosedMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

func PeriodClosedMessageFromJSON(data []byte) (*PeriodClosedMessage, error) {
	var msg PeriodClosedMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
