// Package tgui provides small Telegram UI helpers for the control panel:
//   - Inline keyboard builders
//   - HTML-safe text helpers
//   - A message builder that carries text and send options together
package tgui
