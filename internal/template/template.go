// Package template resolves display line templates against a sensor snapshot
// and the wall clock.
//
// Two placeholder kinds are recognised and may be mixed freely in a line:
//
//	{time:<strftime format>}   e.g. {time:%H:%M}
//	{sensor.<id fragment>}     e.g. {sensor.outdoor_temp} → entity "sensor.outdoor_temp"
//
// Time placeholders are substituted first, then sensor placeholders.
// Substituted text is never expanded again.
package template

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/lestrrat-go/strftime"

	"github.com/tuomaz/ha-sensor-streamer/internal/cache"
)

const (
	// SensorPrefix is prepended to a placeholder fragment to build the entity id.
	SensorPrefix = "sensor."

	// Missing is substituted for unknown sensors and unusable time formats.
	Missing = "?"
)

var (
	sensorPattern = regexp.MustCompile(`\{sensor\.([\w.]+)\}`)
	timePattern   = regexp.MustCompile(`\{time:([^}]+)\}`)

	// decimalPattern is plain decimal notation. Hex floats and inf/nan are
	// left alone.
	decimalPattern = regexp.MustCompile(`^[+-]?(\d+\.?\d*|\.\d+)([eE][+-]?\d+)?$`)
)

// commaLocales are the locale prefixes (lower case) that write decimals with a comma.
var commaLocales = []string{
	"sv", "no", "nb", "nn", "da", "fi", "is", // Nordic
	"de", "nl", "pl", "cs", "sk", "hu", "ro", "bg", "hr", "sr", "sl", "bs", "mk",
	"fr", "es", "pt", "it", "el", "tr",
	"ru", "uk", "be", "kk",
	"id", "vi",
	"az", "sq", "hy", "ka",
}

// DecimalSeparator returns ',' for locales in the comma family and '.' otherwise.
// Matching is a case-insensitive prefix match, so "sv_SE", "SV" and "sv-FI" all
// select a comma.
func DecimalSeparator(locale string) byte {
	l := strings.ToLower(locale)
	for _, p := range commaLocales {
		if strings.HasPrefix(l, p) {
			return ','
		}
	}
	return '.'
}

// Resolver turns line templates into display strings. It is immutable after
// construction and safe for concurrent use.
type Resolver struct {
	separator byte
	now       func() time.Time
	formats   map[string]*strftime.Strftime
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithClock replaces time.Now, used by tests to pin the captured instant.
func WithClock(now func() time.Time) Option {
	return func(r *Resolver) {
		r.now = now
	}
}

// NewResolver creates a resolver for the given locale tag (e.g. "sv_SE") and
// compiles every {time:...} format found in lines. An invalid format is an
// error here rather than a "?" on every frame.
func NewResolver(locale string, lines []string, opts ...Option) (*Resolver, error) {
	r := &Resolver{
		separator: DecimalSeparator(locale),
		now:       time.Now,
		formats:   make(map[string]*strftime.Strftime),
	}
	for _, opt := range opts {
		opt(r)
	}

	for _, line := range lines {
		for _, m := range timePattern.FindAllStringSubmatch(line, -1) {
			format := m[1]
			if _, ok := r.formats[format]; ok {
				continue
			}
			f, err := compileTimeFormat(format)
			if err != nil {
				return nil, fmt.Errorf("template: line %q: invalid time format %q: %w", line, format, err)
			}
			r.formats[format] = f
		}
	}
	return r, nil
}

// Separator returns the decimal separator selected for the resolver's locale.
func (r *Resolver) Separator() byte {
	return r.separator
}

// Resolve substitutes every placeholder in line. The clock is read once, so
// all time placeholders in the line show the same instant.
func (r *Resolver) Resolve(line string, snap cache.Snapshot) string {
	now := r.now()

	out := replaceSubmatches(timePattern, line, func(format string) string {
		f, ok := r.formats[format]
		if !ok {
			// Line was not known at construction
			var err error
			if f, err = compileTimeFormat(format); err != nil {
				return Missing
			}
		}
		return f.FormatString(now)
	})

	return replaceSubmatches(sensorPattern, out, func(fragment string) string {
		v, ok := snap[SensorPrefix+fragment]
		if !ok {
			return Missing
		}
		return r.localizeNumber(v)
	})
}

// localizeNumber rewrites the decimal point of values in decimal notation.
// "192.168.1.1" and "0x1.8p1" pass through; "1.5" becomes "1,5" under a comma
// locale even when it is a version string.
func (r *Resolver) localizeNumber(v string) string {
	if r.separator == '.' {
		return v
	}
	if !decimalPattern.MatchString(v) {
		return v
	}
	return strings.Replace(v, ".", string(r.separator), 1)
}

// replaceSubmatches replaces each match of re in s with fn(first capture group),
// left to right.
func replaceSubmatches(re *regexp.Regexp, s string, fn func(string) string) string {
	idx := re.FindAllStringSubmatchIndex(s, -1)
	if len(idx) == 0 {
		return s
	}

	var b strings.Builder
	b.Grow(len(s))
	last := 0
	for _, m := range idx {
		b.WriteString(s[last:m[0]])
		b.WriteString(fn(s[m[2]:m[3]]))
		last = m[1]
	}
	b.WriteString(s[last:])
	return b.String()
}

// RequiredSensors returns the sorted, de-duplicated entity ids referenced by
// sensor placeholders across all lines.
func RequiredSensors(lines []string) []string {
	seen := make(map[string]struct{})
	for _, line := range lines {
		for _, m := range sensorPattern.FindAllStringSubmatch(line, -1) {
			seen[SensorPrefix+m[1]] = struct{}{}
		}
	}

	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
