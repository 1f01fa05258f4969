package seatguard

import (
	"fmt"
	"net"

	"github.com/oschwald/geoip2-golang"
)

// GeoLocation is the position of an IP address.
type GeoLocation struct {
	IP        string  `json:"ip"`
	City      string  `json:"city"`
	Country   string  `json:"country"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// GeoIPReader provides IP geolocation using MaxMind GeoLite2 database.
type GeoIPReader struct {
	db   *geoip2.Reader
	path string
}

// NewGeoIPReader opens a MaxMind GeoLite2-City database.
func NewGeoIPReader(dbPath string) (*GeoIPReader, error) {
	if dbPath == "" {
		return nil, ErrGeoIPDatabaseNotConfigured
	}

	db, err := geoip2.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("geoip: failed to open database: %w", err)
	}

	return &GeoIPReader{
		db:   db,
		path: dbPath,
	}, nil
}

// Lookup returns the location of an IP address.
func (r *GeoIPReader) Lookup(ip string) (*GeoLocation, error) {
	if r == nil || r.db == nil {
		return nil, ErrGeoIPDatabaseNotConfigured
	}

	parsed := net.ParseIP(ip)
	if parsed == nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidIP, ip)
	}

	record, err := r.db.City(parsed)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGeoIPLookupFailed, err)
	}

	return &GeoLocation{
		IP:        ip,
		City:      localizedName(record.City.Names),
		Country:   localizedName(record.Country.Names),
		Latitude:  record.Location.Latitude,
		Longitude: record.Location.Longitude,
	}, nil
}

// localizedName prefers English and falls back to any available name.
func localizedName(names map[string]string) string {
	if name, ok := names["en"]; ok {
		return name
	}
	for _, name := range names {
		return name
	}
	return ""
}

// Close closes the GeoIP database.
func (r *GeoIPReader) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

// locate fills the location fields of a session from its IP address.
// Private addresses and failed lookups leave the session unlocated.
func (r *GeoIPReader) locate(session *SessionRecord) {
	if r == nil || IsPrivateIP(session.IPAddress) {
		return
	}
	loc, err := r.Lookup(session.IPAddress)
	if err != nil {
		return
	}
	session.City = loc.City
	session.Country = loc.Country
	// MaxMind reports 0,0 when it only knows the country.
	if loc.Latitude != 0 || loc.Longitude != 0 {
		lat, lng := loc.Latitude, loc.Longitude
		session.Latitude = &lat
		session.Longitude = &lng
	}
}
