package seatguard

import "errors"

var (
	// ErrInvalidSession is returned when a session record is missing its
	// subscription or session ID.
	ErrInvalidSession = errors.New("seatguard: invalid session record")

	// ErrInvalidSeat is returned when a seat assignment or reassignment is
	// missing its subscription or seat ID.
	ErrInvalidSeat = errors.New("seatguard: invalid seat assignment")

	// ErrInvalidConfig is returned when a detector configuration fails validation.
	ErrInvalidConfig = errors.New("seatguard: invalid configuration")

	// ErrGeoIPDatabaseNotConfigured is returned when GeoIP lookup is attempted
	// without configuring the GeoIP database path.
	ErrGeoIPDatabaseNotConfigured = errors.New("seatguard: GeoIP database path not configured")

	// ErrGeoIPLookupFailed is returned when IP geolocation lookup fails.
	ErrGeoIPLookupFailed = errors.New("seatguard: GeoIP lookup failed")

	// ErrInvalidIP is returned when an invalid IP address is provided.
	ErrInvalidIP = errors.New("seatguard: invalid IP address")
)
