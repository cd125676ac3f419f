package logbuf

import (
	"encoding/json"
	"time"
)

type entryJSON struct {
	Timestamp string `json:"timestamp"`
	Level     Level  `json:"level"`
	Message   string `json:"message"`
}

// MarshalJSON renders the timestamp in TimeLayout so clients get the
// same millisecond wall-clock string the desktop UI always displayed.
func (e Entry) MarshalJSON() ([]byte, error) {
	return json.Marshal(entryJSON{
		Timestamp: e.Timestamp.Format(TimeLayout),
		Level:     e.Level,
		Message:   e.Message,
	})
}

func (e *Entry) UnmarshalJSON(b []byte) error {
	var raw entryJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	ts, err := time.ParseInLocation(TimeLayout, raw.Timestamp, time.Local)
	if err != nil {
		return err
	}
	e.Timestamp = ts
	e.Level = raw.Level
	e.Message = raw.Message
	return nil
}
