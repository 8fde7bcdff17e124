// Package particles maps a wind and fine dust observation to the parameters
// the particle page feeds into its compute pass.
package particles

import (
	"errors"
	"math"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// MaxParticles is the size of the particle buffers on the page
const MaxParticles = 50000

// Sectors are the eight wind direction bands, 45 degrees each, clockwise from north
var Sectors = [8]string{"N-NE", "NE-E", "E-SE", "SE-S", "S-SW", "SW-W", "W-NW", "NW-N"}

var countPrinter = message.NewPrinter(language.English)

// Observation is one reading as passed on the query string
type Observation struct {
	WindSpeed    float64
	HasWindSpeed bool
	Direction    int64
	HasDirection bool
	PM10         int64
	HasPM10      bool
}

// Vector3 is a velocity template, scaled per particle on the page
type Vector3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Box is the simulation volume particles wrap around in
type Box struct {
	XMin float64 `json:"xmin"`
	XMax float64 `json:"xmax"`
	YMin float64 `json:"ymin"`
	YMax float64 `json:"ymax"`
	ZMin float64 `json:"zmin"`
	ZMax float64 `json:"zmax"`
}

// Bounds is the box used by the page
var Bounds = Box{XMin: -500, XMax: 500, YMin: -200, YMax: 200, ZMin: -500, ZMax: 500}

// Params is everything the page needs to seed its buffers
type Params struct {
	Speed      int     `json:"speed"`
	Sector     string  `json:"sector,omitempty"`
	Velocity   Vector3 `json:"velocity"`
	Count      int     `json:"count"`
	CountLabel string  `json:"count_label"`
	Max        int     `json:"max"`
	Bounds     Box     `json:"bounds"`
}

// ParseObservation parses raw query values the way the page reads them:
// wind speed from the longest leading decimal literal, direction and PM10
// from the leading integer (decimal or 0x hex). Trailing text is ignored.
// Values with no numeric prefix are left absent.
func ParseObservation(wsd, vec, pm10 string) Observation {
	var o Observation
	if f, ok := parseLeadingFloat(wsd); ok {
		o.WindSpeed = f
		o.HasWindSpeed = true
	}
	if n, ok := parseLeadingInt(vec); ok {
		o.Direction = n
		o.HasDirection = true
	}
	if n, ok := parseLeadingInt(pm10); ok {
		o.PM10 = n
		o.HasPM10 = true
	}
	return o
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func isHexDigit(c byte) bool {
	return isDigit(c) || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}

func splitSign(s string) (string, string) {
	if s != "" && (s[0] == '+' || s[0] == '-') {
		return s[:1], s[1:]
	}
	return "", s
}

// parseLeadingFloat reads "[sign]digits[.digits][e[sign]digits]" or
// "[sign]Infinity" from the start of s.
func parseLeadingFloat(s string) (float64, bool) {
	s = strings.TrimLeftFunc(s, unicode.IsSpace)
	sign, rest := splitSign(s)
	if strings.HasPrefix(rest, "Infinity") {
		if sign == "-" {
			return math.Inf(-1), true
		}
		return math.Inf(1), true
	}

	i, mantissa := 0, 0
	for i < len(rest) && isDigit(rest[i]) {
		i++
		mantissa++
	}
	if i < len(rest) && rest[i] == '.' {
		i++
		for i < len(rest) && isDigit(rest[i]) {
			i++
			mantissa++
		}
	}
	if mantissa == 0 {
		return 0, false
	}
	end := i
	if i < len(rest) && (rest[i] == 'e' || rest[i] == 'E') {
		j := i + 1
		if j < len(rest) && (rest[j] == '+' || rest[j] == '-') {
			j++
		}
		k := j
		for k < len(rest) && isDigit(rest[k]) {
			k++
		}
		if k > j {
			end = k
		}
	}

	f, err := strconv.ParseFloat(sign+rest[:end], 64)
	if err != nil && !errors.Is(err, strconv.ErrRange) {
		return 0, false
	}
	return f, true
}

// parseLeadingInt reads "[sign]digits" or "[sign]0xhexdigits" from the
// start of s. Out of range values saturate.
func parseLeadingInt(s string) (int64, bool) {
	s = strings.TrimLeftFunc(s, unicode.IsSpace)
	sign, rest := splitSign(s)

	base, digit := 10, isDigit
	if len(rest) > 1 && rest[0] == '0' && (rest[1] == 'x' || rest[1] == 'X') {
		base, digit, rest = 16, isHexDigit, rest[2:]
	}
	i := 0
	for i < len(rest) && digit(rest[i]) {
		i++
	}
	if i == 0 {
		return 0, false
	}

	n, err := strconv.ParseInt(sign+rest[:i], base, 64)
	if err != nil && !errors.Is(err, strconv.ErrRange) {
		return 0, false
	}
	return n, true
}

// SpeedBucket returns the particle speed scale for the wind speed.
// An absent reading falls into the strongest bucket.
func SpeedBucket(o Observation) int {
	if !o.HasWindSpeed {
		return 7
	}
	switch {
	case o.WindSpeed < 4:
		return 4
	case o.WindSpeed < 9:
		return 5
	case o.WindSpeed < 14:
		return 6
	default:
		return 7
	}
}

// DirectionSector returns the 45 degree band the wind direction falls in.
// Negative and >360 degree values wrap around.
func DirectionSector(o Observation) (string, bool) {
	if !o.HasDirection {
		return "", false
	}
	deg := ((o.Direction % 360) + 360) % 360
	return Sectors[deg/45], true
}

// ParticleCount returns how many particles to draw for the PM10 reading.
// An absent reading draws the maximum.
func ParticleCount(o Observation) int {
	if !o.HasPM10 {
		return MaxParticles
	}
	switch {
	case o.PM10 <= 30:
		return 20000
	case o.PM10 <= 80:
		return 30000
	case o.PM10 <= 150:
		return 40000
	default:
		return MaxParticles
	}
}

// Velocity returns the velocity template for a sector at the given speed.
// Unknown sectors do not move.
func Velocity(sector string, speed float64) Vector3 {
	switch sector {
	case "N-NE":
		return Vector3{0, speed, speed}
	case "NE-E":
		return Vector3{speed, 0, speed}
	case "E-SE":
		return Vector3{speed, -speed, 0}
	case "SE-S":
		return Vector3{0, -speed, -speed}
	case "S-SW":
		return Vector3{-speed, 0, -speed}
	case "SW-W", "W-NW":
		return Vector3{-speed, speed, 0}
	case "NW-N":
		return Vector3{0, speed, 0}
	}
	return Vector3{}
}

// FormatCount renders a particle count with digit grouping
func FormatCount(n int) string {
	return countPrinter.Sprintf("%d", n)
}

// Resolve maps an observation to page parameters
func Resolve(o Observation) Params {
	speed := SpeedBucket(o)
	sector, _ := DirectionSector(o)
	count := ParticleCount(o)
	return Params{
		Speed:      speed,
		Sector:     sector,
		Velocity:   Velocity(sector, float64(speed)),
		Count:      count,
		CountLabel: FormatCount(count),
		Max:        MaxParticles,
		Bounds:     Bounds,
	}
}
