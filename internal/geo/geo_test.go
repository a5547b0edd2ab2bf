package geo

import (
	"math"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDistanceKM(t *testing.T) {
	t.Run("zero for identical points", func(t *testing.T) {
		assert.Zero(t, DistanceKM(52.52, 13.40, 52.52, 13.40))
	})

	t.Run("known city pair", func(t *testing.T) {
		// Berlin to Hamburg, roughly 255 km.
		d := DistanceKM(52.52, 13.40, 53.55, 9.99)
		assert.InDelta(t, 255, d, 5)
	})

	t.Run("short urban distance", func(t *testing.T) {
		// Two points ~1.11 km apart on the same meridian (0.01 deg latitude).
		d := DistanceKM(52.50, 13.40, 52.51, 13.40)
		assert.InDelta(t, 1.11, d, 0.02)
	})

	t.Run("symmetric", func(t *testing.T) {
		a := DistanceKM(40.71, -74.00, 34.05, -118.24)
		b := DistanceKM(34.05, -118.24, 40.71, -74.00)
		assert.Equal(t, a, b)
	})

	t.Run("antipodal points stay finite", func(t *testing.T) {
		d := DistanceKM(0, 0, 0, 180)
		assert.False(t, math.IsNaN(d))
		assert.InDelta(t, math.Pi*earthRadiusKM, d, 1)
	})
}

func person(id uuid.UUID, gender, seeking string, age int, lat, lng float64) Person {
	return Person{
		UserID:        id,
		Gender:        gender,
		SeekingGender: seeking,
		Age:           age,
		MinAge:        18,
		MaxAge:        99,
		MaxDistanceKM: 50,
		Lat:           lat,
		Lng:           lng,
	}
}

func TestMutualPreference(t *testing.T) {
	a := person(uuid.New(), "woman", "man", 30, 0, 0)
	b := person(uuid.New(), "man", "woman", 32, 0, 0)
	c := person(uuid.New(), "man", "man", 28, 0, 0)
	anyone := person(uuid.New(), "nonbinary", GenderAny, 25, 0, 0)

	assert.True(t, MutualPreference(a, b))
	assert.True(t, MutualPreference(b, a))
	assert.False(t, MutualPreference(a, c))
	assert.False(t, MutualPreference(c, a))
	assert.True(t, MutualPreference(anyone, person(uuid.New(), "woman", GenderAny, 40, 0, 0)))

	// One-sided interest is never enough.
	assert.False(t, MutualPreference(c, b))
	assert.False(t, MutualPreference(b, c))

	// Preference comparison ignores case, including for the wildcard.
	capitalAny := person(uuid.New(), "Man", "Any", 33, 0, 0)
	assert.True(t, MutualPreference(a, capitalAny))
	assert.True(t, MutualPreference(capitalAny, a))
}

func TestEligible(t *testing.T) {
	requester := person(uuid.New(), "woman", "man", 30, 52.50, 13.40)
	requester.MinAge = 25
	requester.MaxAge = 35
	requester.MaxDistanceKM = 10

	base := person(uuid.New(), "man", "woman", 30, 52.51, 13.40)

	t.Run("in range", func(t *testing.T) {
		assert.True(t, Eligible(requester, base, nil))
	})

	t.Run("self is never eligible", func(t *testing.T) {
		self := base
		self.UserID = requester.UserID
		assert.False(t, Eligible(requester, self, nil))
	})

	t.Run("excluded predicate wins", func(t *testing.T) {
		assert.False(t, Eligible(requester, base, func(id uuid.UUID) bool {
			return id == base.UserID
		}))
	})

	t.Run("age bounds are the requester's", func(t *testing.T) {
		young := base
		young.Age = 24
		old := base
		old.Age = 36
		edgeLow := base
		edgeLow.Age = 25
		edgeHigh := base
		edgeHigh.Age = 35
		assert.False(t, Eligible(requester, young, nil))
		assert.False(t, Eligible(requester, old, nil))
		assert.True(t, Eligible(requester, edgeLow, nil))
		assert.True(t, Eligible(requester, edgeHigh, nil))
	})

	t.Run("outside radius", func(t *testing.T) {
		far := base
		far.Lat = 53.55
		far.Lng = 9.99
		assert.False(t, Eligible(requester, far, nil))
	})

	t.Run("gender mismatch", func(t *testing.T) {
		other := base
		other.SeekingGender = "man"
		assert.False(t, Eligible(requester, other, nil))
	})
}

func TestNearest(t *testing.T) {
	requester := person(uuid.New(), "woman", GenderAny, 30, 52.50, 13.40)

	t.Run("picks the closest eligible", func(t *testing.T) {
		near := person(uuid.New(), "man", GenderAny, 30, 52.51, 13.40)
		far := person(uuid.New(), "man", GenderAny, 30, 52.60, 13.40)
		best, dist, ok := Nearest(requester, []Person{far, near}, nil)
		require.True(t, ok)
		assert.Equal(t, near.UserID, best.UserID)
		assert.InDelta(t, 1.11, dist, 0.02)
	})

	t.Run("empty pool", func(t *testing.T) {
		_, _, ok := Nearest(requester, nil, nil)
		assert.False(t, ok)
	})

	t.Run("no eligible candidate", func(t *testing.T) {
		ineligible := person(uuid.New(), "man", "man", 30, 52.51, 13.40)
		_, _, ok := Nearest(requester, []Person{ineligible}, nil)
		assert.False(t, ok)
	})

	t.Run("exact tie resolves to smaller UUID", func(t *testing.T) {
		idA := uuid.MustParse("00000000-0000-0000-0000-000000000001")
		idB := uuid.MustParse("ffffffff-0000-0000-0000-000000000001")
		// Same coordinates, so identical distance.
		a := person(idA, "man", GenderAny, 30, 52.51, 13.40)
		b := person(idB, "man", GenderAny, 30, 52.51, 13.40)

		for _, pool := range [][]Person{{a, b}, {b, a}} {
			best, _, ok := Nearest(requester, pool, nil)
			require.True(t, ok)
			assert.Equal(t, idA, best.UserID)
		}
	})
}

func TestCountWithin(t *testing.T) {
	requester := person(uuid.New(), "woman", "man", 30, 52.50, 13.40)
	near := person(uuid.New(), "man", "man", 30, 52.51, 13.40)
	far := person(uuid.New(), "man", "woman", 30, 53.55, 9.99)

	pool := []Person{requester, near, far}

	// Preference does not matter for the social-proof count; self does.
	assert.Equal(t, 1, CountWithin(requester, pool, 10))
	assert.Equal(t, 2, CountWithin(requester, pool, 500))
	assert.Equal(t, 0, CountWithin(requester, pool, 0.5))
}

func TestFuzzCoordinate(t *testing.T) {
	assert.Equal(t, 52.52, FuzzCoordinate(52.520008))
	assert.Equal(t, -13.41, FuzzCoordinate(-13.406))
	assert.Equal(t, 0.0, FuzzCoordinate(0.0049))
}
