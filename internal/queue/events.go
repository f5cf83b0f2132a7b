package queue

import (
	"encoding/json"
	"fmt"
	"time"
)

// TypeMealLogged is published after every accepted scan.
const TypeMealLogged = "meal.logged"

// MealLogged describes one attendance log.
type MealLogged struct {
	MealRecordID string    `json:"meal_record_id"`
	SubjectID    string    `json:"subject_id"`
	HostelID     int64     `json:"hostel_id"`
	Category     string    `json:"category"`
	Day          string    `json:"day"`
	LoggedAt     time.Time `json:"logged_at"`
}

// NewMealLogged wraps evt in a queue message.
func NewMealLogged(evt MealLogged) (Message, error) {
	body, err := json.Marshal(evt)
	if err != nil {
		return Message{}, err
	}
	return Message{Type: TypeMealLogged, Body: body}, nil
}

// DecodeMealLogged unpacks a meal.logged message.
func DecodeMealLogged(msg Message) (MealLogged, error) {
	if msg.Type != TypeMealLogged {
		return MealLogged{}, fmt.Errorf("queue: unexpected message type %q", msg.Type)
	}
	var evt MealLogged
	if err := json.Unmarshal(msg.Body, &evt); err != nil {
		return MealLogged{}, fmt.Errorf("queue: decode %s: %w", msg.Type, err)
	}
	if evt.MealRecordID == "" || evt.HostelID <= 0 || evt.Category == "" || evt.Day == "" {
		return MealLogged{}, fmt.Errorf("queue: incomplete %s event", msg.Type)
	}
	return evt, nil
}
