package markers

import (
	"errors"
	"math"
	"testing"

	"github.com/OCAP2/mapmarkers/internal/geo"
	"github.com/OCAP2/mapmarkers/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustAdd(t *testing.T, s *Store, lon, lat float64) core.Marker {
	t.Helper()
	m, err := s.Add(core.Position{Lon: lon, Lat: lat})
	require.NoError(t, err)
	return m
}

func ids(snap core.Snapshot) []core.MarkerID {
	out := make([]core.MarkerID, len(snap))
	for i, m := range snap {
		out[i] = m.ID
	}
	return out
}

func TestNewStore(t *testing.T) {
	s := NewStore()

	require.NotNil(t, s)
	assert.Equal(t, 0, s.Len())
	assert.Empty(t, s.Snapshot())
	assert.Equal(t, uint64(0), s.Version())
}

func TestAdd_Defaults(t *testing.T) {
	s := NewStore()

	m := mustAdd(t, s, 24.0009, 49.8026)

	assert.Equal(t, core.MarkerID(1), m.ID)
	assert.Equal(t, core.Position{Lon: 24.0009, Lat: 49.8026}, m.Position)
	assert.Empty(t, m.Title)
	assert.Empty(t, m.Description)
	assert.Equal(t, core.Score(0), m.Score)
	assert.Equal(t, 1, s.Len())
}

func TestAdd_UniqueIDs(t *testing.T) {
	s := NewStore()
	seen := make(map[core.MarkerID]bool)

	for i := 0; i < 200; i++ {
		m := mustAdd(t, s, float64(i%360)-180, float64(i%180)-90)
		require.False(t, seen[m.ID], "duplicate id %d", m.ID)
		seen[m.ID] = true
	}
}

func TestAdd_IDsNeverReused(t *testing.T) {
	s := NewStore()

	a := mustAdd(t, s, 1, 1)
	require.True(t, s.Remove(a.ID))
	require.Equal(t, 0, s.Len())

	b := mustAdd(t, s, 1, 1)
	assert.NotEqual(t, a.ID, b.ID)
	assert.Greater(t, b.ID, a.ID)
}

func TestAdd_InvalidPosition(t *testing.T) {
	tests := []struct {
		name string
		pos  core.Position
	}{
		{"longitude too small", core.Position{Lon: -180.0001, Lat: 0}},
		{"longitude too large", core.Position{Lon: 181, Lat: 0}},
		{"latitude too small", core.Position{Lon: 0, Lat: -90.5}},
		{"latitude too large", core.Position{Lon: 0, Lat: 91}},
		{"NaN", core.Position{Lon: math.NaN(), Lat: 0}},
		{"infinite", core.Position{Lon: 0, Lat: math.Inf(1)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewStore()
			_, err := s.Add(tt.pos)

			require.Error(t, err)
			assert.True(t, errors.Is(err, geo.ErrInvalidPosition))
			assert.Equal(t, 0, s.Len())
			assert.Equal(t, uint64(0), s.Version())
		})
	}
}

func TestAdd_BoundaryPositions(t *testing.T) {
	s := NewStore()

	for _, p := range []core.Position{{Lon: -180, Lat: -90}, {Lon: 180, Lat: 90}, {Lon: 0, Lat: 0}} {
		_, err := s.Add(p)
		assert.NoError(t, err)
	}
	assert.Equal(t, 3, s.Len())
}

func TestAddFeature_ClampsScore(t *testing.T) {
	s := NewStore()

	m, err := s.AddFeature(core.Position{Lon: 24, Lat: 49.8}, "Marker1", "marker1 description", 12)
	require.NoError(t, err)

	assert.Equal(t, "Marker1", m.Title)
	assert.Equal(t, "marker1 description", m.Description)
	assert.Equal(t, core.MaxScore, m.Score)
}

func TestRemove_PreservesOrder(t *testing.T) {
	s := NewStore()
	a := mustAdd(t, s, 1, 1)
	b := mustAdd(t, s, 2, 2)
	c := mustAdd(t, s, 3, 3)
	d := mustAdd(t, s, 4, 4)

	require.True(t, s.Remove(b.ID))
	assert.Equal(t, []core.MarkerID{a.ID, c.ID, d.ID}, ids(s.Snapshot()))

	require.True(t, s.Remove(d.ID))
	e := mustAdd(t, s, 5, 5)
	assert.Equal(t, []core.MarkerID{a.ID, c.ID, e.ID}, ids(s.Snapshot()))

	// index stays consistent after shifting
	got, ok := s.Get(e.ID)
	require.True(t, ok)
	assert.Equal(t, e, got)
}

func TestRemove_UnknownIsNoop(t *testing.T) {
	s := NewStore()
	mustAdd(t, s, 1, 1)
	v := s.Version()

	assert.False(t, s.Remove(42))
	assert.Equal(t, 1, s.Len())
	assert.Equal(t, v, s.Version())
}

func TestUpdatePosition(t *testing.T) {
	s := NewStore()
	m := mustAdd(t, s, 1, 1)

	changed, err := s.UpdatePosition(m.ID, core.Position{Lon: 23.96, Lat: 49.81})
	require.NoError(t, err)
	assert.True(t, changed)

	got, _ := s.Get(m.ID)
	assert.Equal(t, core.Position{Lon: 23.96, Lat: 49.81}, got.Position)
}

func TestUpdatePosition_Invalid(t *testing.T) {
	s := NewStore()
	m := mustAdd(t, s, 1, 1)
	v := s.Version()

	changed, err := s.UpdatePosition(m.ID, core.Position{Lon: 200, Lat: 0})
	require.ErrorIs(t, err, geo.ErrInvalidPosition)
	assert.False(t, changed)

	got, _ := s.Get(m.ID)
	assert.Equal(t, core.Position{Lon: 1, Lat: 1}, got.Position)
	assert.Equal(t, v, s.Version())
}

func TestUpdatePosition_UnknownID(t *testing.T) {
	s := NewStore()

	changed, err := s.UpdatePosition(7, core.Position{Lon: 1, Lat: 1})
	assert.NoError(t, err)
	assert.False(t, changed)
}

func TestUpdateScore_Clamps(t *testing.T) {
	tests := []struct {
		value int
		want  core.Score
	}{
		{0, 0},
		{3, 3},
		{5, 5},
		{9, 5},
		{-1, 0},
		{math.MaxInt32, 5},
	}

	for _, tt := range tests {
		s := NewStore()
		m := mustAdd(t, s, 1, 1)

		require.True(t, s.UpdateScore(m.ID, tt.value))
		got, _ := s.Get(m.ID)
		assert.Equal(t, tt.want, got.Score, "value %d", tt.value)
	}
}

func TestUpdateScore_SequentialUpdatesAllApplied(t *testing.T) {
	s := NewStore()
	m := mustAdd(t, s, 1, 1)
	v := s.Version()

	for _, score := range []int{1, 2, 3, 4} {
		require.True(t, s.UpdateScore(m.ID, score))
	}

	got, _ := s.Get(m.ID)
	assert.Equal(t, core.Score(4), got.Score)
	assert.Equal(t, v+4, s.Version())
}

func TestUpdateScore_UnknownID(t *testing.T) {
	s := NewStore()
	assert.False(t, s.UpdateScore(1, 3))
}

func TestSnapshot_Independent(t *testing.T) {
	s := NewStore()
	m := mustAdd(t, s, 1, 1)
	snap := s.Snapshot()

	s.UpdateScore(m.ID, 4)
	_, _ = s.UpdatePosition(m.ID, core.Position{Lon: 2, Lat: 2})
	mustAdd(t, s, 3, 3)
	s.Remove(m.ID)

	require.Len(t, snap, 1)
	assert.Equal(t, core.Score(0), snap[0].Score)
	assert.Equal(t, core.Position{Lon: 1, Lat: 1}, snap[0].Position)

	// consumers writing to their copy must not reach the store
	snap2 := s.Snapshot()
	snap2[0].Title = "changed"
	got := s.Snapshot()
	assert.Empty(t, got[0].Title)
}

func TestUpdateText(t *testing.T) {
	s := NewStore()
	m := mustAdd(t, s, 1, 1)
	v := s.Version()

	assert.True(t, s.UpdateText(m.ID, "Castle", "ruins on the hill"))
	got, ok := s.Get(m.ID)
	require.True(t, ok)
	assert.Equal(t, "Castle", got.Title)
	assert.Equal(t, "ruins on the hill", got.Description)
	assert.Equal(t, v+1, s.Version())

	assert.False(t, s.UpdateText(99, "x", "y"))
	assert.Equal(t, v+1, s.Version())
}
