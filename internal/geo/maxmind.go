package geo

import (
	"context"
	"fmt"
	"net"

	"github.com/oschwald/geoip2-golang"
)

// MaxMind looks addresses up in a GeoLite2/GeoIP2 City database.
type MaxMind struct {
	reader *geoip2.Reader
}

// OpenMaxMind opens the .mmdb file at path.
func OpenMaxMind(path string) (*MaxMind, error) {
	reader, err := geoip2.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open geoip database %q: %w", path, err)
	}
	return &MaxMind{reader: reader}, nil
}

// Lookup returns the ISO country code, first subdivision ISO code and English
// city name for ip.
func (m *MaxMind) Lookup(ctx context.Context, ip string) (Location, bool, error) {
	if err := ctx.Err(); err != nil {
		return Location{}, false, err
	}

	parsed := net.ParseIP(ip)
	if parsed == nil {
		return Location{}, false, fmt.Errorf("invalid ip address %q", ip)
	}

	rec, err := m.reader.City(parsed)
	if err != nil {
		return Location{}, false, fmt.Errorf("geoip city lookup: %w", err)
	}

	loc := Location{
		Country: rec.Country.IsoCode,
		City:    rec.City.Names["en"],
	}
	if len(rec.Subdivisions) > 0 {
		loc.Region = rec.Subdivisions[0].IsoCode
	}
	if loc == (Location{}) {
		return Location{}, false, nil
	}
	return loc, true, nil
}

func (m *MaxMind) Close() error {
	return m.reader.Close()
}
