// Package session owns the authentication session lifecycle: credential
// exchange, durable persistence, restore-on-start, and the inactivity
// watchdog. Session transitions fan out synchronously to registered
// subscribers (the notification sync engine, the watchdog) after each
// state change commits.
package session
