package httpx

import (
	"encoding/json"
	"time"
)

// EpochMillis serializes a timestamp as {"epochMillis": n}.
type EpochMillis struct {
	time.Time
}

type epochMillisWire struct {
	EpochMillis int64 `json:"epochMillis"`
}

// Millis wraps t for wire encoding.
func Millis(t time.Time) EpochMillis {
	return EpochMillis{Time: t}
}

func (m EpochMillis) MarshalJSON() ([]byte, error) {
	return json.Marshal(epochMillisWire{EpochMillis: m.UnixMilli()})
}

func (m *EpochMillis) UnmarshalJSON(data []byte) error {
	var w epochMillisWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	m.Time = time.UnixMilli(w.EpochMillis).UTC()
	return nil
}
