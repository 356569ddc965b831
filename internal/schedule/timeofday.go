package schedule

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseTimeOfDay parses "HH:MM" (24h). A single-digit hour is accepted;
// minutes must have two digits.
func ParseTimeOfDay(s string) (hour, minute int, err error) {
	raw := strings.TrimSpace(s)
	hh, mm, ok := strings.Cut(raw, ":")
	if !ok || len(hh) == 0 || len(hh) > 2 || len(mm) != 2 {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidTimeOfDay, s)
	}
	hour, herr := atoiDigits(hh)
	minute, merr := atoiDigits(mm)
	if herr != nil || merr != nil || hour > 23 || minute > 59 {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidTimeOfDay, s)
	}
	return hour, minute, nil
}

// atoiDigits is strconv.Atoi without sign handling.
func atoiDigits(s string) (int, error) {
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, strconv.ErrSyntax
		}
	}
	return strconv.Atoi(s)
}
