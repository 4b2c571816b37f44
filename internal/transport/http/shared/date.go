package shared

import "time"

const DateLayout = "2006-01-02"

// ParseDate accepts YYYY-MM-DD or RFC3339. Instants are reduced to the UTC
// calendar date they fall on.
func ParseDate(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	if parsed, err := time.Parse(DateLayout, value); err == nil {
		return parsed, nil
	}
	parsed, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, err
	}
	y, m, d := parsed.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC), nil
}
