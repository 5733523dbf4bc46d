package models

import "time"

// WebhookEvent is one inbound call to a connection's webhook endpoint.
type WebhookEvent struct {
	Type         string         `json:"type"`
	Data         map[string]any `json:"data"`
	Timestamp    time.Time      `json:"timestamp"`
	ConnectionID string         `json:"connectionId"`
	Media        *InlineMedia   `json:"media,omitempty"`
}

// InlineMedia is a base64 artifact carried inside a webhook body. Data may be
// plain base64 or a data URI.
type InlineMedia struct {
	Type     string `json:"type"`
	Data     string `json:"data"`
	Filename string `json:"filename,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
}
