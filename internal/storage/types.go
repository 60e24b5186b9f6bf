package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "file": JSON Lines files next to Path
//   - "sqlite": SQLite database file (modernc.org/sqlite, no cgo)
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// AuditEntry records an operator action from the control panel.
type AuditEntry struct {
	ID            string    `json:"id"`
	At            time.Time `json:"at"`
	ActorID       int64     `json:"actor_id"`
	ActorUsername string    `json:"actor_username,omitempty"`
	ChatID        int64     `json:"chat_id"`
	Action        string    `json:"action"`
	Target        string    `json:"target,omitempty"`
	OK            bool      `json:"ok"`
	Error         string    `json:"error,omitempty"`
	MetaJSON      string    `json:"meta,omitempty"`
}

// SendRecord records one deal published to a channel.
type SendRecord struct {
	At          time.Time `json:"at"`
	RunID       string    `json:"run_id"`
	Channel     string    `json:"channel"`
	Destination string    `json:"destination"`
	ProductID   string    `json:"product_id"`
	Title       string    `json:"title"`
	Price       float64   `json:"price"`
	Link        string    `json:"link"`
	MessageID   int       `json:"message_id"`
}
