package freq

import (
	"fmt"
	"math/rand"
	"sort"
	"strconv"
	"strings"
)

// Range is a closed interval of transmit frequencies in Hz
type Range struct {
	Low  uint64 `json:"low_hz" yaml:"low_hz"`
	High uint64 `json:"high_hz" yaml:"high_hz"`
}

// Set is a collection of ranges. A fixed frequency is a degenerate range
// with Low == High.
type Set []Range

// PickStep is the granularity used when choosing a point inside a range
const PickStep = 1000 // 1 kHz

// Point returns a set containing the single frequency hz
func Point(hz uint64) Set {
	return Set{{Low: hz, High: hz}}
}

// Valid reports whether the range is non-empty and ordered
func (r Range) Valid() bool {
	return r.Low > 0 && r.Low <= r.High
}

// Contains reports whether hz falls inside the range
func (r Range) Contains(hz uint64) bool {
	return hz >= r.Low && hz <= r.High
}

// Width returns the span of the range in Hz
func (r Range) Width() uint64 {
	return r.High - r.Low
}

// Overlap returns the intersection of two ranges and whether it is non-empty
func (r Range) Overlap(o Range) (Range, bool) {
	low := r.Low
	if o.Low > low {
		low = o.Low
	}
	high := r.High
	if o.High < high {
		high = o.High
	}
	if low > high {
		return Range{}, false
	}
	return Range{Low: low, High: high}, true
}

func (r Range) String() string {
	if r.Low == r.High {
		return FormatHz(r.Low)
	}
	return FormatHz(r.Low) + "-" + FormatHz(r.High)
}

// Validate checks every range in the set
func (s Set) Validate() error {
	if len(s) == 0 {
		return fmt.Errorf("frequency set is empty")
	}
	for _, r := range s {
		if !r.Valid() {
			return fmt.Errorf("invalid frequency range %d-%d", r.Low, r.High)
		}
	}
	return nil
}

// Normalize returns a sorted copy with overlapping and adjacent ranges merged
func (s Set) Normalize() Set {
	if len(s) == 0 {
		return nil
	}
	out := make(Set, len(s))
	copy(out, s)
	sort.Slice(out, func(i, j int) bool {
		if out[i].Low != out[j].Low {
			return out[i].Low < out[j].Low
		}
		return out[i].High < out[j].High
	})

	merged := out[:1]
	for _, r := range out[1:] {
		last := &merged[len(merged)-1]
		if r.Low <= last.High+1 {
			if r.High > last.High {
				last.High = r.High
			}
			continue
		}
		merged = append(merged, r)
	}
	return merged
}

// Contains reports whether hz falls inside any range of the set
func (s Set) Contains(hz uint64) bool {
	for _, r := range s {
		if r.Contains(hz) {
			return true
		}
	}
	return false
}

// Empty reports whether the set covers no frequencies
func (s Set) Empty() bool {
	return len(s) == 0
}

// Intersect returns the set of frequencies covered by both sets
func (s Set) Intersect(o Set) Set {
	a := s.Normalize()
	b := o.Normalize()

	var out Set
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		if ov, ok := a[i].Overlap(b[j]); ok {
			out = append(out, ov)
		}
		if a[i].High < b[j].High {
			i++
		} else {
			j++
		}
	}
	return out
}

// Pick chooses a pseudo-random frequency from the set, stepping in PickStep
// increments so wide bands are sampled evenly. Returns false when the set
// is empty.
func (s Set) Pick(rng *rand.Rand) (uint64, bool) {
	n := s.Normalize()
	if len(n) == 0 {
		return 0, false
	}

	var total uint64
	for _, r := range n {
		total += r.Width()/PickStep + 1
	}

	idx := uint64(rng.Int63n(int64(total)))
	for _, r := range n {
		steps := r.Width()/PickStep + 1
		if idx < steps {
			hz := r.Low + idx*PickStep
			if hz > r.High {
				hz = r.High
			}
			return hz, true
		}
		idx -= steps
	}
	return n[len(n)-1].High, true
}

func (s Set) String() string {
	parts := make([]string, len(s))
	for i, r := range s {
		parts[i] = r.String()
	}
	return strings.Join(parts, ",")
}

// ParseHz parses a frequency with an optional k/M/G suffix and optional
// trailing "Hz", e.g. "433920000", "433.92M", "868.3MHz", "2.4G".
func ParseHz(s string) (uint64, error) {
	v := strings.TrimSpace(s)
	if v == "" {
		return 0, fmt.Errorf("empty frequency")
	}

	upper := strings.ToUpper(v)
	upper = strings.TrimSuffix(upper, "HZ")

	mult := uint64(1)
	switch {
	case strings.HasSuffix(upper, "K"):
		mult = 1e3
		upper = strings.TrimSuffix(upper, "K")
	case strings.HasSuffix(upper, "M"):
		mult = 1e6
		upper = strings.TrimSuffix(upper, "M")
	case strings.HasSuffix(upper, "G"):
		mult = 1e9
		upper = strings.TrimSuffix(upper, "G")
	}

	upper = strings.TrimSpace(upper)
	f, err := strconv.ParseFloat(upper, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid frequency %q: %w", s, err)
	}
	if f <= 0 {
		return 0, fmt.Errorf("invalid frequency %q: must be positive", s)
	}
	return uint64(f*float64(mult) + 0.5), nil
}

// ParseRange parses "low-high" or a single frequency
func ParseRange(s string) (Range, error) {
	if low, high, found := strings.Cut(s, "-"); found {
		lo, err := ParseHz(low)
		if err != nil {
			return Range{}, err
		}
		hi, err := ParseHz(high)
		if err != nil {
			return Range{}, err
		}
		r := Range{Low: lo, High: hi}
		if !r.Valid() {
			return Range{}, fmt.Errorf("invalid frequency range %q", s)
		}
		return r, nil
	}

	hz, err := ParseHz(s)
	if err != nil {
		return Range{}, err
	}
	return Range{Low: hz, High: hz}, nil
}

// Parse parses a comma-separated list of frequencies and ranges
func Parse(spec string) (Set, error) {
	var out Set
	for _, part := range strings.Split(spec, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		r, err := ParseRange(part)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("empty frequency spec %q", spec)
	}
	return out.Normalize(), nil
}

// FormatHz renders a frequency with the largest suffix that keeps it readable
func FormatHz(hz uint64) string {
	switch {
	case hz >= 1e9 && hz%1e6 == 0:
		return trimZeros(float64(hz)/1e9) + "G"
	case hz >= 1e6 && hz%1e3 == 0:
		return trimZeros(float64(hz)/1e6) + "M"
	case hz >= 1e4 && hz%1e3 == 0:
		return trimZeros(float64(hz)/1e3) + "k"
	default:
		return strconv.FormatUint(hz, 10)
	}
}

func trimZeros(f float64) string {
	s := strconv.FormatFloat(f, 'f', 6, 64)
	s = strings.TrimRight(s, "0")
	return strings.TrimSuffix(s, ".")
}
