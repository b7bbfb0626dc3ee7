package model

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Duration wraps time.Duration and serializes as an ISO-8601 duration
// (e.g. "PT2S", "P1DT12H") for persistence compatibility.
type Duration time.Duration

func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

func (d Duration) String() string {
	dur := time.Duration(d)
	if dur == 0 {
		return "PT0S"
	}

	var b strings.Builder
	b.WriteString("P")

	if days := dur / (24 * time.Hour); days > 0 {
		fmt.Fprintf(&b, "%dD", days)
		dur -= days * 24 * time.Hour
	}

	if dur == 0 {
		return b.String()
	}

	b.WriteString("T")
	if h := dur / time.Hour; h > 0 {
		fmt.Fprintf(&b, "%dH", h)
		dur -= h * time.Hour
	}
	if m := dur / time.Minute; m > 0 {
		fmt.Fprintf(&b, "%dM", m)
		dur -= m * time.Minute
	}
	if dur > 0 {
		secs := float64(dur) / float64(time.Second)
		b.WriteString(strconv.FormatFloat(secs, 'f', -1, 64))
		b.WriteString("S")
	}

	return b.String()
}

// ParseDuration parses an ISO-8601 duration. Year and month designators are
// rejected because their length is calendar dependent.
func ParseDuration(s string) (Duration, error) {
	orig := s
	if len(s) < 2 || s[0] != 'P' {
		return 0, fmt.Errorf("invalid ISO-8601 duration %q", orig)
	}
	s = s[1:]

	var total time.Duration
	inTime := false
	num := ""

	for len(s) > 0 {
		c := s[0]
		s = s[1:]

		if c == 'T' {
			inTime = true
			continue
		}
		if (c >= '0' && c <= '9') || c == '.' {
			num += string(c)
			continue
		}
		if num == "" {
			return 0, fmt.Errorf("invalid ISO-8601 duration %q", orig)
		}
		f, err := strconv.ParseFloat(num, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid ISO-8601 duration %q: %w", orig, err)
		}
		num = ""

		var unit time.Duration
		switch {
		case c == 'D' && !inTime:
			unit = 24 * time.Hour
		case c == 'H' && inTime:
			unit = time.Hour
		case c == 'M' && inTime:
			unit = time.Minute
		case c == 'S' && inTime:
			unit = time.Second
		default:
			return 0, fmt.Errorf("unsupported designator %q in ISO-8601 duration %q", string(c), orig)
		}
		total += time.Duration(f * float64(unit))
	}

	if num != "" {
		return 0, fmt.Errorf("invalid ISO-8601 duration %q", orig)
	}
	return Duration(total), nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(d.String())), nil
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	s, err := strconv.Unquote(string(b))
	if err != nil {
		return err
	}
	parsed, err := ParseDuration(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}
