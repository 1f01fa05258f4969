package store

import (
	"os"
	"testing"
)

// newTestMySQL connects to SEATGUARD_MYSQL_DSN and skips the test when it
// is unset. The tables in that database are wiped.
func newTestMySQL(t *testing.T) *MySQLStore {
	t.Helper()
	dsn := os.Getenv("SEATGUARD_MYSQL_DSN")
	if dsn == "" {
		t.Skip("SEATGUARD_MYSQL_DSN not set")
	}

	s, err := NewMySQLFromDSN(dsn)
	if err != nil {
		t.Fatalf("Failed to connect to MySQL: %v", err)
	}
	if err := s.ClearSessions(); err != nil {
		t.Fatalf("ClearSessions() error = %v", err)
	}
	if err := s.ClearSeats(); err != nil {
		t.Fatalf("ClearSeats() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestMySQLSessionStore(t *testing.T) {
	testSessionStore(t, newTestMySQL(t))
}

func TestMySQLSeatStore(t *testing.T) {
	testSeatStore(t, newTestMySQL(t))
}
