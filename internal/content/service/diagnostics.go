package service

import (
	"context"
	"fmt"
)

const (
	BackendRunning = "running"

	DatabaseConnected   = "connected"
	DatabaseUnavailable = "unavailable"
	DatabaseError       = "error"

	ConnectionConnected    = "Connected"
	ConnectionNotConnected = "Not Connected"
)

// maxDiagnosticError caps Diagnostics.Error, counted in characters.
const maxDiagnosticError = 80

// Diagnostics reports service and storage health.
type Diagnostics struct {
	Backend          string   `json:"backend"`
	Database         string   `json:"database"`
	DatabaseName     string   `json:"database_name,omitempty"`
	ConnectionStatus string   `json:"connection_status"`
	Collections      []string `json:"collections"`
	Error            string   `json:"error,omitempty"`
}

// Diagnose checks the store. It never fails: an unreachable or erroring store
// is reported in the result.
func (s *Service) Diagnose(ctx context.Context) Diagnostics {
	d := Diagnostics{
		Backend:          BackendRunning,
		Database:         DatabaseUnavailable,
		ConnectionStatus: ConnectionNotConnected,
		Collections:      []string{},
	}
	if err := s.store.Ping(ctx); err != nil {
		s.logger.WarnContext(ctx, "storage ping failed", "error", err)
		d.Error = truncate(err.Error())
		return d
	}
	d.DatabaseName = s.store.Name()
	d.ConnectionStatus = ConnectionConnected

	names, err := s.store.Collections(ctx)
	if err != nil {
		s.logger.WarnContext(ctx, "listing collections failed", "error", err)
		d.Database = DatabaseError
		d.Error = truncate(fmt.Sprintf("list collections: %v", err))
		return d
	}
	d.Database = DatabaseConnected
	d.Collections = names
	return d
}

// truncate keeps the first maxDiagnosticError characters of msg.
func truncate(msg string) string {
	n := 0
	for i := range msg {
		if n == maxDiagnosticError {
			return msg[:i]
		}
		n++
	}
	return msg
}
