package types

import "time"

// WeatherSnapshot is one provider reading for one location
type WeatherSnapshot struct {
	Location   string             `json:"location"`
	Lat        float64            `json:"lat"`
	Lon        float64            `json:"lon"`
	ObservedAt time.Time          `json:"observed_at"`
	Values     map[string]float64 `json:"values"`
}

// Value returns the observed value of a parameter and whether it was present
func (s WeatherSnapshot) Value(parameter string) (float64, bool) {
	if s.Values == nil {
		return 0, false
	}
	v, ok := s.Values[parameter]
	return v, ok
}

// Delivery records whether a notification went out on one channel
type Delivery struct {
	Sent   bool       `json:"sent"`
	SentAt *time.Time `json:"sent_at,omitempty"`
}

// TriggeredEvent is an immutable record of an alert found triggered in a cycle
type TriggeredEvent struct {
	ID            string              `json:"id"`
	AlertID       string              `json:"alert_id"`
	UserID        string              `json:"user_id"`
	Location      string              `json:"location"`
	Parameter     string              `json:"parameter"`
	Operator      Operator            `json:"operator"`
	Threshold     float64             `json:"threshold"`
	CurrentValue  float64             `json:"current_value"`
	TriggeredAt   time.Time           `json:"triggered_at"`
	Notifications map[string]Delivery `json:"notifications"`
}

// NewTriggeredEvent builds an event for alert with every channel marked unsent
func NewTriggeredEvent(alert Alert, observed float64, at time.Time, channels []string) TriggeredEvent {
	notifications := make(map[string]Delivery, len(channels))
	for _, ch := range channels {
		notifications[ch] = Delivery{}
	}
	return TriggeredEvent{
		AlertID:       alert.ID,
		UserID:        alert.UserID,
		Location:      alert.Location.Text,
		Parameter:     alert.Parameter,
		Operator:      alert.Operator,
		Threshold:     alert.Threshold,
		CurrentValue:  observed,
		TriggeredAt:   at,
		Notifications: notifications,
	}
}

// Pending reports whether any channel still awaits delivery
func (e TriggeredEvent) Pending() bool {
	for _, d := range e.Notifications {
		if !d.Sent {
			return true
		}
	}
	return false
}
