package focus

import (
	"math"
	"strings"
)

const (
	// coneRatio widens the directional match as the primary offset grows.
	coneRatio = 1.5
	// coneSlack lets near-aligned neighbours match even at tiny offsets.
	coneSlack = 4.0
	// minDelta is how far along the primary axis a candidate must lie.
	minDelta = 1.0
)

// Direction is a directional navigation request.
type Direction int

const (
	Up Direction = iota
	Down
	Left
	Right
)

func (d Direction) String() string {
	switch d {
	case Up:
		return "up"
	case Down:
		return "down"
	case Left:
		return "left"
	case Right:
		return "right"
	}
	return "unknown"
}

// ParseDirection accepts "up", "ArrowUp", "UP" and so on.
func ParseDirection(s string) (Direction, bool) {
	s = strings.ToLower(strings.TrimPrefix(strings.TrimPrefix(s, "Arrow"), "arrow"))
	switch s {
	case "up":
		return Up, true
	case "down":
		return Down, true
	case "left":
		return Left, true
	case "right":
		return Right, true
	}
	return 0, false
}

// Bounds is an on-screen rectangle.
type Bounds struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// Center returns the rectangle's midpoint.
func (b Bounds) Center() (x, y float64) {
	return b.X + b.W/2, b.Y + b.H/2
}

// Descriptor is one control that can take directional focus.
type Descriptor struct {
	NodeID   string `json:"node_id"`
	GroupID  string `json:"group_id,omitempty"`
	Bounds   Bounds `json:"bounds"`
	Disabled bool   `json:"disabled,omitempty"`
	Hidden   bool   `json:"hidden,omitempty"`
	TabIndex int    `json:"tab_index,omitempty"`
}

// Group returns GroupID, or the node path with its last segment removed.
func (d Descriptor) Group() string {
	if d.GroupID != "" {
		return d.GroupID
	}
	return ParentPath(d.NodeID)
}

// Eligible reports whether the descriptor may receive focus.
func (d Descriptor) Eligible() bool {
	return !d.Disabled && !d.Hidden && d.TabIndex >= 0
}

// ParentPath strips the last "/" segment from path.
func ParentPath(path string) string {
	path = strings.TrimSuffix(path, "/")
	if i := strings.LastIndexByte(path, '/'); i >= 0 {
		return path[:i]
	}
	return ""
}

func offset(from, to Descriptor) (dx, dy float64) {
	ax, ay := from.Bounds.Center()
	bx, by := to.Bounds.Center()
	return bx - ax, by - ay
}

func distance(from, to Descriptor) float64 {
	dx, dy := offset(from, to)
	return math.Hypot(dx, dy)
}

// Matches reports whether to lies in direction dir from from. The match is
// a cone around the primary axis, not a quadrant split.
func Matches(from, to Descriptor, dir Direction) bool {
	dx, dy := offset(from, to)
	switch dir {
	case Left:
		return dx < -minDelta && math.Abs(dy) <= math.Abs(dx)*coneRatio+coneSlack
	case Right:
		return dx > minDelta && math.Abs(dy) <= math.Abs(dx)*coneRatio+coneSlack
	case Up:
		return dy < -minDelta && math.Abs(dx) <= math.Abs(dy)*coneRatio+coneSlack
	case Down:
		return dy > minDelta && math.Abs(dx) <= math.Abs(dy)*coneRatio+coneSlack
	}
	return false
}

func nearestMatch(origin Descriptor, candidates []Descriptor, dir Direction) (Descriptor, bool) {
	var best Descriptor
	bestDist := math.Inf(1)
	found := false
	for _, c := range candidates {
		if !Matches(origin, c, dir) {
			continue
		}
		if d := distance(origin, c); d < bestDist {
			best, bestDist, found = c, d, true
		}
	}
	return best, found
}

// Next picks the control to focus when moving dir from origin. Candidates
// are filtered for eligibility; origin itself is never returned. Siblings in
// origin's group are searched first, then every candidate, then the single
// closest control regardless of direction.
func Next(origin Descriptor, candidates []Descriptor, dir Direction) (Descriptor, bool) {
	eligible := make([]Descriptor, 0, len(candidates))
	for _, c := range candidates {
		if c.NodeID == origin.NodeID || !c.Eligible() {
			continue
		}
		eligible = append(eligible, c)
	}
	if len(eligible) == 0 {
		return Descriptor{}, false
	}

	group := origin.Group()
	siblings := make([]Descriptor, 0, len(eligible))
	for _, c := range eligible {
		if c.Group() == group {
			siblings = append(siblings, c)
		}
	}
	if d, ok := nearestMatch(origin, siblings, dir); ok {
		return d, true
	}
	if d, ok := nearestMatch(origin, eligible, dir); ok {
		return d, true
	}

	best := eligible[0]
	bestDist := distance(origin, best)
	for _, c := range eligible[1:] {
		if d := distance(origin, c); d < bestDist {
			best, bestDist = c, d
		}
	}
	return best, true
}

// First returns the top-most, then left-most eligible descriptor.
func First(candidates []Descriptor) (Descriptor, bool) {
	var best Descriptor
	found := false
	for _, c := range candidates {
		if !c.Eligible() {
			continue
		}
		if !found || c.Bounds.Y < best.Bounds.Y || (c.Bounds.Y == best.Bounds.Y && c.Bounds.X < best.Bounds.X) {
			best, found = c, true
		}
	}
	return best, found
}
