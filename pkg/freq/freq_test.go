package freq

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestParseHz tests frequency parsing with suffixes
func TestParseHz(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected uint64
		wantErr  bool
	}{
		{name: "plain hz", input: "433920000", expected: 433920000},
		{name: "megahertz suffix", input: "433.92M", expected: 433920000},
		{name: "megahertz with unit", input: "868.3MHz", expected: 868300000},
		{name: "kilohertz", input: "125k", expected: 125000},
		{name: "gigahertz", input: "2.4G", expected: 2400000000},
		{name: "whitespace", input: " 433.92M ", expected: 433920000},
		{name: "empty", input: "", wantErr: true},
		{name: "garbage", input: "fast", wantErr: true},
		{name: "negative", input: "-433M", wantErr: true},
		{name: "zero", input: "0", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hz, err := ParseHz(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, hz)
		})
	}
}

// TestParse tests full set parsing
func TestParse(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected Set
		wantErr  bool
	}{
		{
			name:     "single point",
			input:    "433.92M",
			expected: Set{{Low: 433920000, High: 433920000}},
		},
		{
			name:     "single range",
			input:    "433.05M-434.79M",
			expected: Set{{Low: 433050000, High: 434790000}},
		},
		{
			name:  "multiple ranges sorted and merged",
			input: "868M-868.6M, 433.05M-434.79M, 434M-435M",
			expected: Set{
				{Low: 433050000, High: 435000000},
				{Low: 868000000, High: 868600000},
			},
		},
		{name: "reversed range", input: "434M-433M", wantErr: true},
		{name: "empty", input: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := Parse(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, s)
		})
	}
}

// TestIntersect tests set intersection
func TestIntersect(t *testing.T) {
	tests := []struct {
		name     string
		a        Set
		b        Set
		expected Set
	}{
		{
			name:     "overlapping ranges",
			a:        Set{{Low: 433000000, High: 435000000}},
			b:        Set{{Low: 434000000, High: 436000000}},
			expected: Set{{Low: 434000000, High: 435000000}},
		},
		{
			name:     "disjoint ranges",
			a:        Set{{Low: 433000000, High: 434000000}},
			b:        Set{{Low: 868000000, High: 869000000}},
			expected: nil,
		},
		{
			name:     "point inside range",
			a:        Point(433920000),
			b:        Set{{Low: 433050000, High: 434790000}},
			expected: Set{{Low: 433920000, High: 433920000}},
		},
		{
			name: "multiple fragments",
			a:    Set{{Low: 100, High: 1000}, {Low: 2000, High: 3000}},
			b:    Set{{Low: 500, High: 2500}},
			expected: Set{
				{Low: 500, High: 1000},
				{Low: 2000, High: 2500},
			},
		},
		{
			name:     "empty set",
			a:        nil,
			b:        Point(433920000),
			expected: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.a.Intersect(tt.b))
		})
	}
}

// TestPick verifies the chosen frequency always lies inside the set
func TestPick(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	set := Set{
		{Low: 433050000, High: 434790000},
		{Low: 868000000, High: 868000000},
	}

	for i := 0; i < 500; i++ {
		hz, ok := set.Pick(rng)
		require.True(t, ok)
		assert.True(t, set.Contains(hz), "picked %d outside set", hz)
	}

	// Point sets always return the point
	hz, ok := Point(433920000).Pick(rng)
	require.True(t, ok)
	assert.Equal(t, uint64(433920000), hz)

	// Empty sets report no pick
	_, ok = Set{}.Pick(rng)
	assert.False(t, ok)
}

// TestNormalize tests merge behavior of adjacent and overlapping ranges
func TestNormalize(t *testing.T) {
	tests := []struct {
		name     string
		input    Set
		expected Set
	}{
		{
			name:     "adjacent ranges merge",
			input:    Set{{Low: 100, High: 200}, {Low: 201, High: 300}},
			expected: Set{{Low: 100, High: 300}},
		},
		{
			name:     "contained range collapses",
			input:    Set{{Low: 100, High: 500}, {Low: 200, High: 300}},
			expected: Set{{Low: 100, High: 500}},
		},
		{
			name:     "gap preserved",
			input:    Set{{Low: 100, High: 200}, {Low: 300, High: 400}},
			expected: Set{{Low: 100, High: 200}, {Low: 300, High: 400}},
		},
		{
			name:     "nil stays nil",
			input:    nil,
			expected: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.input.Normalize())
		})
	}
}

// TestFormatHz tests human-readable rendering
func TestFormatHz(t *testing.T) {
	assert.Equal(t, "433.92M", FormatHz(433920000))
	assert.Equal(t, "868M", FormatHz(868000000))
	assert.Equal(t, "2.4G", FormatHz(2400000000))
	assert.Equal(t, "125k", FormatHz(125000))
	assert.Equal(t, "433920001", FormatHz(433920001))
}
