package models

import "time"

// ConnectionState is the pairing state of a WhatsApp connection.
type ConnectionState string

const (
	StateDisconnected ConnectionState = "disconnected"
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
)

// Connection is a snapshot of a registered WhatsApp connection.
type Connection struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	OwnerID     string            `json:"ownerId,omitempty"`
	State       ConnectionState   `json:"connectionState"`
	IsConnected bool              `json:"isConnected"`
	QRCode      string            `json:"qrCode,omitempty"`
	WhatsApp    *WhatsAppIdentity `json:"whatsappInfo,omitempty"`
	CreatedAt   time.Time         `json:"createdAt"`
	UpdatedAt   time.Time         `json:"updatedAt"`
	QRIssuedAt  *time.Time        `json:"qrIssuedAt,omitempty"`
	ConnectedAt *time.Time        `json:"connectedAt,omitempty"`
}

// WhatsAppIdentity is the account a connection is paired with.
type WhatsAppIdentity struct {
	Name       string `json:"name,omitempty"`
	Phone      string `json:"phone,omitempty"`
	WhatsAppID string `json:"whatsappId,omitempty"`
}

// LifecycleEventType enumerates notifications published by the connection manager.
type LifecycleEventType string

const (
	EventRegistered    LifecycleEventType = "registered"
	EventQRCode        LifecycleEventType = "qrCode"
	EventQRExpired     LifecycleEventType = "qrExpired"
	EventOpened        LifecycleEventType = "connectionOpened"
	EventDisconnected  LifecycleEventType = "connectionClosed"
	EventDeleted       LifecycleEventType = "connectionRemoved"
	EventActiveChanged LifecycleEventType = "activeChanged"
)

// LifecycleEvent is delivered to subscribers of the connection manager.
type LifecycleEvent struct {
	Type         LifecycleEventType `json:"type"`
	ConnectionID string             `json:"connectionId"`
	State        ConnectionState    `json:"connectionState,omitempty"`
	QRCode       string             `json:"qrCode,omitempty"`
	At           time.Time          `json:"at"`
}
