// Package geo holds the pure candidate-evaluation layer: great-circle
// distance over fuzzed coordinates and the hard eligibility predicate.
// It carries no state and touches no store; exclusion sets (blocks, decline
// memory) arrive as a predicate from the caller.
package geo

import (
	"math"
	"strings"

	"github.com/google/uuid"
)

const earthRadiusKM = 6371.0

// DistanceKM is the haversine great-circle distance in kilometers. The
// intermediate term is clamped to [0,1] so floating-point overshoot near
// antipodal or identical points cannot produce NaN.
func DistanceKM(lat1, lng1, lat2, lng2 float64) float64 {
	rad := math.Pi / 180
	dLat := (lat2 - lat1) * rad
	dLng := (lng2 - lng1) * rad

	sinLat := math.Sin(dLat / 2)
	sinLng := math.Sin(dLng / 2)
	a := sinLat*sinLat + math.Cos(lat1*rad)*math.Cos(lat2*rad)*sinLng*sinLng
	a = math.Min(1, math.Max(0, a))

	return 2 * earthRadiusKM * math.Asin(math.Sqrt(a))
}

// Person is the evaluator's view of one user: fuzzed location plus the hard
// preference fields.
type Person struct {
	UserID        uuid.UUID
	Gender        string
	SeekingGender string
	Age           int
	MinAge        int
	MaxAge        int
	MaxDistanceKM float64
	Lat           float64
	Lng           float64
}

const GenderAny = "any"

func seeks(seeking, gender string) bool {
	return strings.EqualFold(seeking, GenderAny) || strings.EqualFold(seeking, gender)
}

// MutualPreference holds when each side's seeking-gender accepts the other's
// gender. It is symmetric by construction.
func MutualPreference(a, b Person) bool {
	return seeks(a.SeekingGender, b.Gender) && seeks(b.SeekingGender, a.Gender)
}

// Eligible applies the full hard filter from the requester's point of view:
// distance within the requester's radius, mutual gender preference, and the
// candidate's age inside the requester's range. Blocks, decline memory and
// live-match exclusion are the caller's excluded predicate.
func Eligible(requester, candidate Person, excluded func(uuid.UUID) bool) bool {
	if candidate.UserID == requester.UserID {
		return false
	}
	if excluded != nil && excluded(candidate.UserID) {
		return false
	}
	if !MutualPreference(requester, candidate) {
		return false
	}
	if candidate.Age < requester.MinAge || candidate.Age > requester.MaxAge {
		return false
	}
	d := DistanceKM(requester.Lat, requester.Lng, candidate.Lat, candidate.Lng)
	return d <= requester.MaxDistanceKM
}

// Nearest picks the closest eligible candidate. Exact distance ties resolve
// to the lexicographically smaller candidate UUID: any deterministic rule is
// acceptable, this one is at least explicit.
func Nearest(requester Person, pool []Person, excluded func(uuid.UUID) bool) (Person, float64, bool) {
	var best Person
	bestDist := math.Inf(1)
	found := false

	for _, c := range pool {
		if !Eligible(requester, c, excluded) {
			continue
		}
		d := DistanceKM(requester.Lat, requester.Lng, c.Lat, c.Lng)
		if d < bestDist || (d == bestDist && c.UserID.String() < best.UserID.String()) {
			best, bestDist, found = c, d, true
		}
	}
	return best, bestDist, found
}

// CountWithin counts pool members inside radiusKM of the requester,
// irrespective of preference. Used as the social-proof figure on the
// no-candidate event.
func CountWithin(requester Person, pool []Person, radiusKM float64) int {
	n := 0
	for _, c := range pool {
		if c.UserID == requester.UserID {
			continue
		}
		if DistanceKM(requester.Lat, requester.Lng, c.Lat, c.Lng) <= radiusKM {
			n++
		}
	}
	return n
}

// FuzzCoordinate coarsens a coordinate to two decimal places (roughly a
// kilometer) before it is stored or compared.
func FuzzCoordinate(v float64) float64 {
	return math.Round(v*100) / 100
}
