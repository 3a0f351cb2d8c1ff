// Package geo resolves client IP addresses to coarse locations for click analytics.
package geo

import "context"

// Unknown is recorded for any location field a lookup could not provide.
const Unknown = "Unknown"

// Location is the coarse place a click came from.
type Location struct {
	Country string `json:"country"`
	Region  string `json:"region"`
	City    string `json:"city"`
}

// UnknownLocation returns a Location with every field set to Unknown.
func UnknownLocation() Location {
	return Location{Country: Unknown, Region: Unknown, City: Unknown}
}

// OrUnknown returns l with empty fields replaced by Unknown.
func (l Location) OrUnknown() Location {
	if l.Country == "" {
		l.Country = Unknown
	}
	if l.Region == "" {
		l.Region = Unknown
	}
	if l.City == "" {
		l.City = Unknown
	}
	return l
}

// Locator looks up the location of an IP address.
// found is false when the address is not in the database.
type Locator interface {
	Lookup(ctx context.Context, ip string) (loc Location, found bool, err error)
}

// LocatorFunc adapts a function to Locator.
type LocatorFunc func(ctx context.Context, ip string) (Location, bool, error)

func (f LocatorFunc) Lookup(ctx context.Context, ip string) (Location, bool, error) {
	return f(ctx, ip)
}

// Nop never finds anything. Used when no geolocation database is configured.
type Nop struct{}

func (Nop) Lookup(context.Context, string) (Location, bool, error) {
	return Location{}, false, nil
}
