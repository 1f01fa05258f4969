package store

import (
	"fmt"
	"reflect"
	"testing"
	"time"
)

var epoch = time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

func float(v float64) *float64 { return &v }

func testSession(subscriptionID, sessionID string) *Session {
	return &Session{
		SubscriptionID:   subscriptionID,
		SessionID:        sessionID,
		UserID:           "user-1",
		FingerprintHash:  "9f2c",
		UserAgent:        "Mozilla/5.0",
		ScreenResolution: "1920x1080",
		Timezone:         "UTC",
		Language:         "en-US",
		Platform:         "Linux",
		IPAddress:        "203.0.113.10",
		LastActiveAt:     epoch,
		IsActive:         true,
	}
}

func sessionIDs(sessions []*Session) []string {
	ids := make([]string, len(sessions))
	for i, s := range sessions {
		ids[i] = s.SessionID
	}
	return ids
}

// testSessionStore checks the SessionStore contract against s.
func testSessionStore(t *testing.T, s SessionStore) {
	t.Helper()

	for _, id := range []string{"a", "b", "c"} {
		if err := s.Save(testSession("sub-1", id)); err != nil {
			t.Fatalf("Save(%s) error = %v", id, err)
		}
	}
	if err := s.Save(testSession("sub-2", "a")); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	updated := testSession("sub-1", "a")
	updated.IsActive = false
	updated.Latitude = float(52.52)
	updated.Longitude = float(13.405)
	updated.City = "Berlin"
	updated.LastActiveAt = epoch.Add(time.Minute)
	if err := s.Save(updated); err != nil {
		t.Fatalf("Save(update) error = %v", err)
	}

	sessions, err := s.ListBySubscription("sub-1")
	if err != nil {
		t.Fatalf("ListBySubscription() error = %v", err)
	}
	if got := sessionIDs(sessions); !reflect.DeepEqual(got, []string{"a", "b", "c"}) {
		t.Fatalf("Expected registration order [a b c], got %v", got)
	}

	a := sessions[0]
	if a.IsActive || a.City != "Berlin" || !a.LastActiveAt.Equal(epoch.Add(time.Minute)) {
		t.Errorf("Update not persisted: %+v", a)
	}
	if a.Latitude == nil || *a.Latitude != 52.52 || a.Longitude == nil || *a.Longitude != 13.405 {
		t.Errorf("Coordinates not persisted: %v, %v", a.Latitude, a.Longitude)
	}
	if sessions[1].Latitude != nil {
		t.Errorf("Missing coordinates should stay nil, got %v", *sessions[1].Latitude)
	}
	if sessions[1].FingerprintHash != "9f2c" || sessions[1].Platform != "Linux" {
		t.Errorf("Fingerprint fields not persisted: %+v", sessions[1])
	}

	if err := s.Delete("sub-1", "b"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if err := s.Delete("sub-1", "missing"); err != nil {
		t.Errorf("Deleting an unknown session should not fail, got %v", err)
	}
	sessions, _ = s.ListBySubscription("sub-1")
	if got := sessionIDs(sessions); !reflect.DeepEqual(got, []string{"a", "c"}) {
		t.Errorf("Expected [a c] after delete, got %v", got)
	}

	other, _ := s.ListBySubscription("sub-2")
	if len(other) != 1 {
		t.Errorf("Subscriptions should be isolated, got %d sessions for sub-2", len(other))
	}

	if err := s.ClearSessions(); err != nil {
		t.Fatalf("ClearSessions() error = %v", err)
	}
	sessions, _ = s.ListBySubscription("sub-1")
	if len(sessions) != 0 {
		t.Errorf("Expected no sessions after clear, got %d", len(sessions))
	}
}

// testSeatStore checks the SeatStore contract against s.
func testSeatStore(t *testing.T, s SeatStore) {
	t.Helper()

	seat := func(subscriptionID, seatID string) *Seat {
		return &Seat{
			SubscriptionID: subscriptionID,
			SeatID:         seatID,
			UserID:         "user-" + seatID,
			AssignedAt:     epoch.Add(-30 * 24 * time.Hour),
			LastActiveAt:   epoch,
			Devices:        []string{"d1", "d2"},
			IPAddresses:    []string{"203.0.113.10"},
			IsActive:       true,
		}
	}

	for _, sub := range []string{"sub-1", "sub-2"} {
		for i := 0; i < 3; i++ {
			if err := s.SaveSeat(seat(sub, fmt.Sprintf("seat-%d", i))); err != nil {
				t.Fatalf("SaveSeat() error = %v", err)
			}
		}
	}

	updated := seat("sub-1", "seat-0")
	updated.Locations = []string{"Berlin, Germany"}
	updated.Devices = nil
	if err := s.SaveSeat(updated); err != nil {
		t.Fatalf("SaveSeat(update) error = %v", err)
	}

	seats, err := s.ListSeats("sub-1")
	if err != nil {
		t.Fatalf("ListSeats() error = %v", err)
	}
	if len(seats) != 3 || seats[0].SeatID != "seat-0" || seats[2].SeatID != "seat-2" {
		t.Fatalf("Expected three seats in registration order, got %+v", seats)
	}
	if len(seats[0].Devices) != 0 || !reflect.DeepEqual(seats[0].Locations, []string{"Berlin, Germany"}) {
		t.Errorf("Update not persisted: %+v", seats[0])
	}
	if !reflect.DeepEqual(seats[1].Devices, []string{"d1", "d2"}) || !seats[1].AssignedAt.Equal(epoch.Add(-30*24*time.Hour)) {
		t.Errorf("Seat fields not persisted: %+v", seats[1])
	}

	// seat-1 exists in both subscriptions; the first registered wins.
	sub, ok, err := s.FindSubscription("seat-1")
	if err != nil || !ok || sub != "sub-1" {
		t.Errorf("FindSubscription(seat-1) = %q, %v, %v; want sub-1", sub, ok, err)
	}
	if _, ok, _ := s.FindSubscription("nope"); ok {
		t.Error("FindSubscription should not find an unknown seat")
	}

	for i := 0; i < 3; i++ {
		err := s.AppendReassignment(&Reassignment{
			SubscriptionID: "sub-1",
			SeatID:         "seat-1",
			FromUserID:     fmt.Sprintf("u%d", i),
			ToUserID:       fmt.Sprintf("u%d", i+1),
			ReassignedAt:   epoch.Add(time.Duration(i) * time.Hour),
		})
		if err != nil {
			t.Fatalf("AppendReassignment() error = %v", err)
		}
	}
	history, err := s.ListReassignments("sub-1")
	if err != nil {
		t.Fatalf("ListReassignments() error = %v", err)
	}
	if len(history) != 3 || history[0].FromUserID != "u0" || history[2].ToUserID != "u3" {
		t.Errorf("Expected history oldest first, got %+v", history)
	}
	if !history[1].ReassignedAt.Equal(epoch.Add(time.Hour)) {
		t.Errorf("ReassignedAt not persisted, got %v", history[1].ReassignedAt)
	}
	if other, _ := s.ListReassignments("sub-2"); len(other) != 0 {
		t.Errorf("Reassignments should be isolated, got %d for sub-2", len(other))
	}

	if err := s.ClearSeats(); err != nil {
		t.Fatalf("ClearSeats() error = %v", err)
	}
	seats, _ = s.ListSeats("sub-1")
	history, _ = s.ListReassignments("sub-1")
	if len(seats) != 0 || len(history) != 0 {
		t.Errorf("Expected empty store after clear, got %d seats and %d reassignments", len(seats), len(history))
	}
	if _, ok, _ := s.FindSubscription("seat-1"); ok {
		t.Error("FindSubscription should find nothing after clear")
	}
}

// testGraceStore checks the GraceStore contract against s.
func testGraceStore(t *testing.T, s GraceStore) {
	t.Helper()

	if _, ok, err := s.FirstViolation("sub-1"); err != nil || ok {
		t.Fatalf("Expected no record, got ok=%v err=%v", ok, err)
	}

	if err := s.StartGrace("sub-1", epoch); err != nil {
		t.Fatalf("StartGrace() error = %v", err)
	}
	if err := s.StartGrace("sub-1", epoch.Add(time.Hour)); err != nil {
		t.Fatalf("StartGrace() error = %v", err)
	}

	at, ok, err := s.FirstViolation("sub-1")
	if err != nil || !ok {
		t.Fatalf("FirstViolation() = %v, %v", ok, err)
	}
	if !at.Equal(epoch) {
		t.Errorf("Restarting must keep the first violation, got %v", at)
	}

	if err := s.StartGrace("sub-2", epoch); err != nil {
		t.Fatalf("StartGrace() error = %v", err)
	}
	if err := s.DeleteGrace("sub-1"); err != nil {
		t.Fatalf("DeleteGrace() error = %v", err)
	}
	if _, ok, _ := s.FirstViolation("sub-1"); ok {
		t.Error("Record should be gone after delete")
	}
	if _, ok, _ := s.FirstViolation("sub-2"); !ok {
		t.Error("Delete should not touch other subscriptions")
	}

	if err := s.ClearGrace(); err != nil {
		t.Fatalf("ClearGrace() error = %v", err)
	}
	if _, ok, _ := s.FirstViolation("sub-2"); ok {
		t.Error("Record should be gone after clear")
	}
}
