package auth

import (
	"crypto/subtle"
	"log/slog"
	"strings"
)

// Admin gates account creation behind a single configured credential pair.
type Admin struct {
	email    string
	password string
}

// NewAdmin creates the gate. An empty email or password disables it.
func NewAdmin(email, password string) *Admin {
	return &Admin{email: strings.ToLower(strings.TrimSpace(email)), password: password}
}

// Configured reports whether admin credentials were provided.
func (a *Admin) Configured() bool {
	return a.email != "" && a.password != ""
}

// Check compares the credentials in constant time.
func (a *Admin) Check(email, password string) bool {
	if !a.Configured() {
		slog.Warn("Admin.Check: admin credentials not configured")
		return false
	}
	e := strings.ToLower(strings.TrimSpace(email))
	emailOK := subtle.ConstantTimeCompare([]byte(e), []byte(a.email)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(password), []byte(a.password)) == 1
	return emailOK && passOK
}
