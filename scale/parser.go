package scale

import (
	"regexp"
	"strconv"
)

// Reading is the result of parsing one raw line from the scale.
// UnitPrice and Total are only populated by the full pricing frame;
// most scales run in weight-only or PLU+weight mode.
type Reading struct {
	Weight     float64
	ProductRef string
	UnitPrice  float64
	Total      float64
}

// Frame patterns in descending match priority. The prefixes are fixed
// tokens, so the first four are mutually exclusive by construction; the
// bare-decimal form only applies when no other token is present.
var (
	// P<PLU>W<weight>U<unit price>T<total> - scale has pricing enabled
	fullFrame = regexp.MustCompile(`P(\d{4,6})W([+-]?\d+(?:\.\d+)?)U(\d+(?:\.\d+)?)T(\d+(?:\.\d+)?)`)

	// P<PLU>W<weight> - PLU mode without pricing
	refWeightFrame = regexp.MustCompile(`P(\d{4,6})W([+-]?\d+(?:\.\d+)?)`)

	// W<weight> - weight-only mode
	weightFrame = regexp.MustCompile(`[Ww]([+-]?\d+(?:\.\d+)?)`)

	// <weight>kg - simple continuous output
	unitFrame = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*[kK][gG]`)

	// bare decimal, fractional part required
	bareFrame = regexp.MustCompile(`[+-]?\d+\.\d+`)
)

// Parse maps one newline-delimited text chunk to a Reading. It returns
// false when the line carries no numeric weight token; callers must not
// treat that as a zero-weight reading. Parse is stateless and has no
// side effects.
func Parse(line string) (Reading, bool) {
	if line == "" {
		return Reading{}, false
	}

	if m := fullFrame.FindStringSubmatch(line); m != nil {
		weight, err := strconv.ParseFloat(m[2], 64)
		if err != nil {
			return Reading{}, false
		}
		unitPrice, _ := strconv.ParseFloat(m[3], 64)
		total, _ := strconv.ParseFloat(m[4], 64)
		return Reading{
			Weight:     weight,
			ProductRef: m[1],
			UnitPrice:  unitPrice,
			Total:      total,
		}, true
	}

	if m := refWeightFrame.FindStringSubmatch(line); m != nil {
		weight, err := strconv.ParseFloat(m[2], 64)
		if err != nil {
			return Reading{}, false
		}
		return Reading{Weight: weight, ProductRef: m[1]}, true
	}

	if m := weightFrame.FindStringSubmatch(line); m != nil {
		weight, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			return Reading{}, false
		}
		return Reading{Weight: weight}, true
	}

	if m := unitFrame.FindStringSubmatch(line); m != nil {
		weight, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			return Reading{}, false
		}
		return Reading{Weight: weight}, true
	}

	if m := bareFrame.FindString(line); m != "" {
		weight, err := strconv.ParseFloat(m, 64)
		if err != nil {
			return Reading{}, false
		}
		return Reading{Weight: weight}, true
	}

	return Reading{}, false
}
