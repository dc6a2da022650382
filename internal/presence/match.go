package presence

import (
	"log/slog"
	"math"
	"sort"
)

const (
	// DefaultMinFaceSize is the smallest box edge, in pixels, that is matched.
	DefaultMinFaceSize = 30
	// DefaultTolerance is the largest signature distance accepted as a match.
	DefaultTolerance = 0.5
)

// Signature is a face encoding produced by the recognizer.
type Signature []float64

// Candidate is one roster entry the matcher can choose.
type Candidate struct {
	Identity  Identity
	Signature Signature
}

// Box is a face bounding box in frame pixels.
type Box struct {
	Top, Right, Bottom, Left int
}

// BoxFromLoc converts a recognizer location [top, right, bottom, left].
func BoxFromLoc(loc []int) Box {
	if len(loc) < 4 {
		return Box{}
	}
	return Box{Top: loc[0], Right: loc[1], Bottom: loc[2], Left: loc[3]}
}

func (b Box) Width() int  { return b.Right - b.Left }
func (b Box) Height() int { return b.Bottom - b.Top }

// Face is a single recognizer observation.
type Face struct {
	Box       Box
	Signature Signature
}

// Detection is the outcome of matching one Face against the roster.
type Detection struct {
	Identity Identity
	Box      Box
	// Distance to the chosen candidate; +Inf when nothing was compared.
	Distance float64
	// TooSmall is set when the box was filtered before matching.
	TooSmall bool
}

// Known reports whether the detection names a roster identity.
func (d Detection) Known() bool { return d.Identity != Unknown }

// Confidence is the display confidence in percent, (1 - distance) * 100.
func (d Detection) Confidence() float64 {
	if math.IsInf(d.Distance, 0) {
		return 0
	}
	return (1 - d.Distance) * 100
}

// DistanceFunc measures how far apart two signatures are.
type DistanceFunc func(a, b Signature) float64

// Matcher applies the size filter and minimum-distance selection.
type Matcher struct {
	MinFaceSize int
	Tolerance   float64
	Distance    DistanceFunc

	candidates []Candidate
	order      map[Identity]int
}

// NewMatcher builds a matcher over candidates. Candidate order is the
// tie-break order: on equal distance the earlier candidate wins.
func NewMatcher(candidates []Candidate, minFaceSize int, tolerance float64) *Matcher {
	order := make(map[Identity]int, len(candidates))
	for i, c := range candidates {
		if _, dup := order[c.Identity]; !dup {
			order[c.Identity] = i
		}
	}
	return &Matcher{
		MinFaceSize: minFaceSize,
		Tolerance:   tolerance,
		Distance:    EuclideanDistance,
		candidates:  candidates,
		order:       order,
	}
}

// Match resolves a single face.
func (m *Matcher) Match(f Face) Detection {
	d := Detection{Identity: Unknown, Box: f.Box, Distance: math.Inf(1)}

	if f.Box.Width() < m.MinFaceSize || f.Box.Height() < m.MinFaceSize {
		d.TooSmall = true
		slog.Debug("presence: skipping small face",
			"width", f.Box.Width(),
			"height", f.Box.Height(),
		)
		return d
	}

	dist := m.Distance
	if dist == nil {
		dist = EuclideanDistance
	}

	best := -1
	bestDist := math.Inf(1)
	for i, c := range m.candidates {
		v := dist(c.Signature, f.Signature)
		slog.Debug("presence: face comparison",
			"identity", c.Identity,
			"distance", v,
			"confidence", (1-v)*100,
			"match", v <= m.Tolerance,
		)
		// Strict less-than keeps the earliest candidate on ties.
		if v <= m.Tolerance && v < bestDist {
			best = i
			bestDist = v
		}
	}

	if best >= 0 {
		d.Identity = m.candidates[best].Identity
		d.Distance = bestDist
	}
	return d
}

// Visible matches every face of a tick and returns the distinct identities
// seen, in roster order, together with the per-face detections.
func (m *Matcher) Visible(faces []Face) ([]Identity, []Detection) {
	detections := make([]Detection, 0, len(faces))
	set := make(map[Identity]struct{})
	for _, f := range faces {
		d := m.Match(f)
		detections = append(detections, d)
		if d.Known() {
			set[d.Identity] = struct{}{}
		}
	}

	ids := make([]Identity, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return m.order[ids[i]] < m.order[ids[j]] })
	return ids, detections
}

// EuclideanDistance is the L2 distance used by dlib face encodings.
// Signatures of different length never match.
func EuclideanDistance(a, b Signature) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return math.Inf(1)
	}
	var sum float64
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return math.Sqrt(sum)
}

// CosineDistance returns 1 - cos(a, b). Zero or mismatched vectors return
// the maximum distance of 2.
func CosineDistance(a, b Signature) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 2.0
	}
	var dot, sumA, sumB float64
	for i := range a {
		dot += a[i] * b[i]
		sumA += a[i] * a[i]
		sumB += b[i] * b[i]
	}
	if sumA == 0 || sumB == 0 {
		return 2.0
	}
	sim := dot / (math.Sqrt(sumA) * math.Sqrt(sumB))
	// Clamp floating point drift.
	if sim > 1 {
		sim = 1
	}
	if sim < -1 {
		sim = -1
	}
	return 1 - sim
}
