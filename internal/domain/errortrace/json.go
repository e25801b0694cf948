package errortrace

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// flexString accepts a JSON string or number.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

// flexTime accepts epoch seconds, epoch milliseconds, or an RFC 3339 string.
type flexTime time.Time

func (f *flexTime) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
			*f = flexTime(t.UTC())
			return nil
		}
		if v, err := strconv.ParseFloat(s, 64); err == nil {
			*f = flexTime(epochToTime(v))
		}
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*f = flexTime(epochToTime(v))
	return nil
}

func (f flexTime) orElse(fallback time.Time) time.Time {
	t := time.Time(f)
	if t.IsZero() {
		return fallback.UTC()
	}
	return t
}

// parseTagList converts "key:value" entries into a map. Entries without a
// colon are stored with an empty value.
func parseTagList(entries []string) map[string]string {
	tags := make(map[string]string, len(entries))
	for _, e := range entries {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		k, v, _ := strings.Cut(e, ":")
		tags[k] = v
	}
	return tags
}

// stringOrList accepts either "a,b,c" or ["a","b","c"].
type stringOrList []string

func (s *stringOrList) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	if data[0] == '[' {
		var list []string
		if err := json.Unmarshal(data, &list); err != nil {
			return err
		}
		*s = list
		return nil
	}
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	*s = strings.Split(str, ",")
	return nil
}
