package template

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/lestrrat-go/strftime"
)

// extendedVerb is a glibc/chrono conversion with no single-byte strftime
// verb. Formats are rewritten to use code, a private control byte, before
// compiling.
type extendedVerb struct {
	verb string // text after '%'
	code byte
	fn   strftime.AppendFunc
}

func unpadded(get func(time.Time) int) strftime.AppendFunc {
	return func(b []byte, t time.Time) []byte {
		return strconv.AppendInt(b, int64(get(t)), 10)
	}
}

// fraction appends the first digits of the nanosecond field, truncated.
func fraction(digits int, dot bool) strftime.AppendFunc {
	return func(b []byte, t time.Time) []byte {
		if dot {
			b = append(b, '.')
		}
		ns := fmt.Sprintf("%09d", t.Nanosecond())
		return append(b, ns[:digits]...)
	}
}

func hour12(t time.Time) int {
	if h := t.Hour() % 12; h != 0 {
		return h
	}
	return 12
}

// Longer verbs first so "%.3f" is matched before anything shorter.
var extendedVerbs = []extendedVerb{
	{".3f", 0x01, fraction(3, true)},
	{".6f", 0x02, fraction(6, true)},
	{".9f", 0x03, fraction(9, true)},
	{"3f", 0x04, fraction(3, false)},
	{"6f", 0x05, fraction(6, false)},
	{"9f", 0x06, fraction(9, false)},
	{"-d", 0x07, unpadded(time.Time.Day)},
	{"-m", 0x08, unpadded(func(t time.Time) int { return int(t.Month()) })},
	{"-H", 0x09, unpadded(time.Time.Hour)},
	{"-I", 0x0a, unpadded(hour12)},
	{"-M", 0x0b, unpadded(time.Time.Minute)},
	{"-S", 0x0c, unpadded(time.Time.Second)},
	{"-j", 0x0d, unpadded(time.Time.YearDay)},
	{"-y", 0x0e, unpadded(func(t time.Time) int { return t.Year() % 100 })},
}

// timeSpecs is the default strftime set plus %P, %s, %f and the extended verbs.
var timeSpecs = newTimeSpecs()

func newTimeSpecs() strftime.SpecificationSet {
	ss := strftime.NewSpecificationSet()

	set := func(b byte, a strftime.Appender) {
		if err := ss.Set(b, a); err != nil {
			panic(fmt.Sprintf("template: strftime verb %q: %v", b, err))
		}
	}

	set('P', strftime.AppendFunc(func(b []byte, t time.Time) []byte {
		if t.Hour() < 12 {
			return append(b, "am"...)
		}
		return append(b, "pm"...)
	}))
	set('s', strftime.UnixSeconds())
	set('f', fraction(9, false))
	for _, v := range extendedVerbs {
		set(v.code, v.fn)
	}
	return ss
}

// rewriteExtended replaces extended verbs with their private codes.
func rewriteExtended(format string) string {
	var b strings.Builder
	b.Grow(len(format))

	for i := 0; i < len(format); i++ {
		c := format[i]
		if c != '%' || i+1 >= len(format) {
			b.WriteByte(c)
			continue
		}

		rest := format[i+1:]
		if rest[0] == '%' {
			b.WriteString("%%")
			i++
			continue
		}

		b.WriteByte('%')
		for _, v := range extendedVerbs {
			if strings.HasPrefix(rest, v.verb) {
				b.WriteByte(v.code)
				i += len(v.verb)
				break
			}
		}
	}
	return b.String()
}

// compileTimeFormat compiles a {time:...} format once for repeated use.
func compileTimeFormat(format string) (*strftime.Strftime, error) {
	return strftime.New(rewriteExtended(format), strftime.WithSpecificationSet(timeSpecs))
}
