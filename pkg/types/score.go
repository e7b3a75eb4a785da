package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Score accepts a JSON number or a numeric string, the two forms scoring
// clients have been observed to send.
type Score float64

func (s *Score) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return err
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(str), 64)
		if err != nil {
			return fmt.Errorf("%w: %q is not numeric", ErrInvalidScore, str)
		}
		*s = Score(f)
		return nil
	}

	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidScore, err)
	}
	*s = Score(f)
	return nil
}

// Normalize rounds the score to the nearest integer and enforces the 0-100 range.
func (s Score) Normalize() (int, error) {
	f := float64(s)
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, ErrInvalidScore
	}
	rounded := math.Round(f)
	if rounded < 0 || rounded > 100 {
		return 0, ErrInvalidScore
	}
	return int(rounded), nil
}
