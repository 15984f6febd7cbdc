package tilereader

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/ncruces/go-strftime"

	"github.com/qri-io/tilereader/granule"
)

// TimeUnits is a parsed CF time units string, "<unit> since <epoch>"
type TimeUnits struct {
	Unit  time.Duration
	Epoch time.Time
}

var timeUnitNames = map[string]time.Duration{
	"milliseconds": time.Millisecond,
	"millisecond":  time.Millisecond,
	"msec":         time.Millisecond,
	"ms":           time.Millisecond,
	"seconds":      time.Second,
	"second":       time.Second,
	"secs":         time.Second,
	"sec":          time.Second,
	"s":            time.Second,
	"minutes":      time.Minute,
	"minute":       time.Minute,
	"mins":         time.Minute,
	"min":          time.Minute,
	"hours":        time.Hour,
	"hour":         time.Hour,
	"hrs":          time.Hour,
	"hr":           time.Hour,
	"h":            time.Hour,
	"days":         24 * time.Hour,
	"day":          24 * time.Hour,
	"d":            24 * time.Hour,
}

// epoch layouts accepted after "since", loosest last
var epochLayouts = []string{
	"2006-1-2 15:4:5",
	"2006-1-2T15:4:5",
	"2006-1-2 15:4",
	"2006-1-2T15:4",
	"2006-1-2",
}

// ParseTimeUnits parses CF units of the form "days since 1981-01-01 00:00:00".
// Epochs are UTC unless they carry an offset such as "+00:00", "-0500" or
// the bare "0:00" some hydrology products write; a trailing "UTC" or "Z" is
// accepted.
func ParseTimeUnits(units string) (*TimeUnits, error) {
	unit, epoch, ok := strings.Cut(strings.TrimSpace(units), " since ")
	if !ok {
		return nil, &DateFormatError{Value: units, Reason: `units are not of the form "<unit> since <epoch>"`}
	}
	d, ok := timeUnitNames[strings.ToLower(strings.TrimSpace(unit))]
	if !ok {
		return nil, &DateFormatError{Value: units, Reason: fmt.Sprintf("unknown time unit %q", unit)}
	}

	epoch = strings.TrimSpace(epoch)
	epoch = strings.TrimSpace(strings.TrimSuffix(epoch, "UTC"))
	epoch = strings.TrimSuffix(epoch, "Z")
	base, zone := splitZone(epoch)
	if zone != "" {
		z, ok := normalizeZone(zone)
		if !ok {
			return nil, &DateFormatError{Value: units, Reason: fmt.Sprintf("cannot parse time zone offset %q", zone)}
		}
		for _, layout := range epochLayouts {
			if t, err := time.Parse(layout+" -07:00", base+" "+z); err == nil {
				return &TimeUnits{Unit: d, Epoch: t.UTC()}, nil
			}
		}
		return nil, &DateFormatError{Value: units, Reason: fmt.Sprintf("cannot parse epoch %q", epoch)}
	}
	for _, layout := range epochLayouts {
		if t, err := time.ParseInLocation(layout, epoch, time.UTC); err == nil {
			return &TimeUnits{Unit: d, Epoch: t}, nil
		}
	}
	return nil, &DateFormatError{Value: units, Reason: fmt.Sprintf("cannot parse epoch %q", epoch)}
}

// splitZone separates a trailing UTC offset from an epoch. The offset is
// either a third whitespace separated field or a signed suffix of the clock.
func splitZone(epoch string) (base, zone string) {
	if f := strings.Fields(epoch); len(f) == 3 {
		return f[0] + " " + f[1], f[2]
	}
	i := strings.IndexAny(epoch, "T ")
	if i < 0 {
		return epoch, ""
	}
	if j := strings.IndexAny(epoch[i+1:], "+-"); j >= 0 {
		j += i + 1
		return strings.TrimSpace(epoch[:j]), epoch[j:]
	}
	return epoch, ""
}

// normalizeZone rewrites "h:mm", "±hh:mm", "±hhmm" and "±hh" as "±hh:mm"
func normalizeZone(z string) (string, bool) {
	sign := "+"
	if z != "" && (z[0] == '+' || z[0] == '-') {
		sign, z = z[:1], z[1:]
	}
	hh, mm, ok := strings.Cut(z, ":")
	if !ok {
		switch len(z) {
		case 4:
			hh, mm = z[:2], z[2:]
		case 1, 2:
			hh, mm = z, "00"
		default:
			return "", false
		}
	}
	if len(hh) < 1 || len(hh) > 2 || len(mm) != 2 || !isDigits(hh) || !isDigits(mm) {
		return "", false
	}
	if len(hh) == 1 {
		hh = "0" + hh
	}
	return sign + hh + ":" + mm, true
}

func isDigits(s string) bool {
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// Seconds converts a value in these units to whole seconds since the Unix
// epoch, truncating toward zero
func (u *TimeUnits) Seconds(v float64) int64 {
	secs := v * u.Unit.Seconds()
	return u.Epoch.Unix() + int64(math.Trunc(secs))
}

// timeDecoder turns raw time variable values into seconds since the Unix epoch
type timeDecoder struct {
	units  *TimeUnits
	day    *time.Time
	offset int64
}

// newTimeDecoder picks the decoding for a time variable. Units with "since"
// take precedence; otherwise values are seconds after midnight of the
// configured day attribute.
func (r *Reader) newTimeDecoder(h granule.Handle, variable string) (*timeDecoder, error) {
	dec := &timeDecoder{offset: r.timeOffset()}
	if v, ok := h.Attribute(variable, "units"); ok {
		if s, ok := granule.String(v); ok && strings.Contains(s, " since ") {
			u, err := ParseTimeUnits(s)
			if err != nil {
				return nil, err
			}
			dec.units = u
			return dec, nil
		}
	}

	day, err := r.day(h)
	if err != nil {
		return nil, err
	}
	if day == nil {
		return nil, &DateFormatError{Attribute: variable, Reason: "time has no epoch units and no day attribute is configured"}
	}
	midnight := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	dec.day = &midnight
	return dec, nil
}

// Decode returns seconds since the Unix epoch, offset applied
func (d *timeDecoder) Decode(v float64) int64 {
	if d.units != nil {
		return d.units.Seconds(v) + d.offset
	}
	return d.day.Unix() + int64(math.Trunc(v)) + d.offset
}

// DecodeFloat is Decode for per sample times, keeping NaN for missing samples
func (d *timeDecoder) DecodeFloat(v float64) float64 {
	if math.IsNaN(v) {
		return v
	}
	return float64(d.Decode(v))
}

// day parses the configured global day attribute. It returns nil when none is
// configured.
func (r *Reader) day(h granule.Handle) (*time.Time, error) {
	if r.cfg.DayAttribute == nil {
		return nil, nil
	}
	name, format := *r.cfg.DayAttribute, *r.cfg.DayFormat
	v, ok := h.GlobalAttribute(name)
	if !ok {
		return nil, &DateFormatError{Attribute: name, Format: format, Reason: "global attribute not found"}
	}
	s, ok := granule.String(v)
	if !ok {
		return nil, &DateFormatError{Attribute: name, Format: format, Reason: fmt.Sprintf("attribute is a %T, not text", v)}
	}
	t, err := strftime.Parse(format, strings.TrimSpace(s))
	if err != nil {
		return nil, &DateFormatError{Attribute: name, Value: s, Format: format, Err: err}
	}
	t = t.UTC()
	return &t, nil
}

func (r *Reader) timeOffset() int64 {
	if r.cfg.TimeOffset == nil {
		return 0
	}
	return *r.cfg.TimeOffset
}
