// v0
// internal/event/event.go
package event

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TimeLayout renders a local date-time without zone designator, trimming
// trailing zero fractions the way ISO_LOCAL_DATE_TIME does.
const TimeLayout = "2006-01-02T15:04:05.999999999"

// Event is the room reading published as the message value.
type Event struct {
	ID          string `json:"id"`
	Time        string `json:"time"`
	Humidity    int    `json:"humidity"`
	Temperature int    `json:"temperature"`
}

// NewEvent builds an Event from its four fields.
func NewEvent(id, ts string, humidity, temperature int) Event {
	return Event{ID: id, Time: ts, Humidity: humidity, Temperature: temperature}
}

// Key is the routing key paired with every Event.
type Key struct {
	Key string `json:"key"`
}

// NewKey returns a Key holding a fresh random UUID.
func NewKey() (Key, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return Key{}, fmt.Errorf("generate key: %w", err)
	}
	return Key{Key: id.String()}, nil
}

// FormatTime renders t in TimeLayout using its own location.
func FormatTime(t time.Time) string {
	return t.Format(TimeLayout)
}

// ParseTime parses a timestamp written by FormatTime in the local zone.
func ParseTime(s string) (time.Time, error) {
	return time.ParseInLocation(TimeLayout, s, time.Local)
}

// Encode serializes the key and the event as two independent JSON documents.
func Encode(k Key, e Event) (key, value []byte, err error) {
	key, err = json.Marshal(k)
	if err != nil {
		return nil, nil, fmt.Errorf("encode key: %w", err)
	}
	value, err = json.Marshal(e)
	if err != nil {
		return nil, nil, fmt.Errorf("encode event: %w", err)
	}
	return key, value, nil
}
