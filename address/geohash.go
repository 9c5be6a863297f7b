package address

import (
	"fmt"
	"math"
	"strings"

	"github.com/mmcloughlin/geohash"
)

// GeohashLength is the number of geohash characters carried in an address.
const GeohashLength = 4

// geohashAlphabet is the base-32 geohash alphabet.
const geohashAlphabet = "0123456789bcdefghjkmnpqrstuvwxyz"

const earthRadiusKm = 6371.0

// Geohash is the fixed-length location cell embedded in an address.
type Geohash [GeohashLength]byte

// ParseGeohash parses a 4-character geohash. Input is case-insensitive.
func ParseGeohash(s string) (Geohash, error) {
	var gh Geohash
	if len(s) != GeohashLength {
		return gh, fmt.Errorf("geohash must be %d characters, got %d", GeohashLength, len(s))
	}
	s = strings.ToLower(s)
	if !ValidGeohash(s) {
		return gh, fmt.Errorf("invalid geohash %q", s)
	}
	copy(gh[:], s)
	return gh, nil
}

// String returns the geohash characters.
func (g Geohash) String() string {
	return string(g[:])
}

// Valid reports whether every character is in the geohash alphabet.
func (g Geohash) Valid() bool {
	return ValidGeohash(g.String())
}

// ValidGeohash reports whether s is a non-empty string over the geohash alphabet.
func ValidGeohash(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if strings.IndexByte(geohashAlphabet, s[i]) < 0 {
			return false
		}
	}
	return true
}

// Location is a WGS84 coordinate.
type Location struct {
	Lat float64 `yaml:"lat" json:"lat"`
	Lon float64 `yaml:"lon" json:"lon"`
}

// Validate checks that the coordinate is in range.
func (l Location) Validate() error {
	if math.IsNaN(l.Lat) || l.Lat < -90 || l.Lat > 90 {
		return fmt.Errorf("latitude %v out of range", l.Lat)
	}
	if math.IsNaN(l.Lon) || l.Lon < -180 || l.Lon > 180 {
		return fmt.Errorf("longitude %v out of range", l.Lon)
	}
	return nil
}

// Geohash returns the address-precision geohash cell of the location.
func (l Location) Geohash() (Geohash, error) {
	if err := l.Validate(); err != nil {
		return Geohash{}, err
	}
	var gh Geohash
	copy(gh[:], EncodeGeohash(l.Lat, l.Lon, GeohashLength))
	return gh, nil
}

// EncodeGeohash encodes a coordinate with the given number of characters.
func EncodeGeohash(lat, lon float64, precision int) string {
	if precision < 1 {
		precision = 1
	}
	return geohash.EncodeWithPrecision(lat, lon, uint(precision))
}

// CommonPrefixLength returns the number of leading characters a and b share.
func CommonPrefixLength(a, b string) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			return i
		}
	}
	return n
}

// ApproximateDistanceKm returns the great-circle distance between the
// centres of two geohash cells.
func ApproximateDistanceKm(a, b string) float64 {
	lat1, lon1 := geohash.DecodeCenter(a)
	lat2, lon2 := geohash.DecodeCenter(b)

	phi1 := lat1 * math.Pi / 180
	phi2 := lat2 * math.Pi / 180
	dPhi := (lat2 - lat1) * math.Pi / 180
	dLambda := (lon2 - lon1) * math.Pi / 180

	h := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	return 2 * earthRadiusKm * math.Asin(math.Min(1, math.Sqrt(h)))
}
