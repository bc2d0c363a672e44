package config

import (
	"strconv"
	"time"

	json "github.com/goccy/go-json"
	"github.com/pkg/errors"
)

// Duration reads either a Go duration string like "1.5s" or a number of
// seconds.
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }
func (d Duration) String() string     { return time.Duration(d).String() }

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return errors.Wrap(err, "decoding duration")
	}

	switch v := v.(type) {
	case float64:
		*d = Duration(v * float64(time.Second))
	case string:
		if secs, err := strconv.ParseFloat(v, 64); err == nil {
			*d = Duration(secs * float64(time.Second))
			return nil
		}
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return errors.Wrapf(ErrInvalid, "duration %q", v)
		}
		*d = Duration(parsed)
	default:
		return errors.Wrapf(ErrInvalid, "duration %s", b)
	}
	return nil
}
