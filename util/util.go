// Package util contains misc internal utilities.
package util

import (
	"errors"
	"math"
	"strconv"
	"strings"
	"time"
)

// IntSliceToCSV convets a slice of ints to CSV formatted data.
// e.g., []int{1,2,3,4,5} => "1,2,3,4,5"
func IntSliceToCSV(is []int) string {
	s := make([]string, len(is))
	for i, v := range is {
		s[i] = strconv.Itoa(v)
	}

	return strings.Join(s, ",")
}

// AllElementsNumbers returns true if every rune in s is a digit or a decimal
// point.  The empty string is not a number.
func AllElementsNumbers(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if (r < '0' || r > '9') && r != '.' {
			return false
		}
	}
	return true
}

// Clamp limits input to the range [low, high]
func Clamp(input, low, high float64) float64 {
	return math.Max(low, math.Min(input, high))
}

// SecsToDuration converts a number of seconds to a duration, rounded to the
// nearest nanosecond
func SecsToDuration(secs float64) time.Duration {
	return time.Duration(math.Round(secs * float64(time.Second)))
}

// MergeErrors joins the non-nil errors in errs; nil if there are none
func MergeErrors(errs []error) error {
	return errors.Join(errs...)
}
