package storage

// Package storage provides the optional persistence layer used by the bot.
//
// It records:
//   - Audit entries (operator actions from the control panel)
//   - Send history (every deal published to a channel)
//
// The dedup ledger lives in memory only and starts empty on every boot.
