package domain

import "time"

// AlertLevel separates fatal notifications from warnings.
type AlertLevel string

const (
	AlertWarning AlertLevel = "warning"
	AlertFatal   AlertLevel = "fatal"
)

// Alert is a fire-and-forget notification.
type Alert struct {
	Level   AlertLevel `json:"level"`
	Subject string     `json:"subject"`
	Body    string     `json:"body,omitempty"`
	Time    time.Time  `json:"time"`
}

// NewAlert stamps an alert with the current time.
func NewAlert(level AlertLevel, subject, body string) Alert {
	return Alert{Level: level, Subject: subject, Body: body, Time: time.Now()}
}

// IsFatal reports whether the alert reports a stopped session.
func (a Alert) IsFatal() bool {
	return a.Level == AlertFatal
}
