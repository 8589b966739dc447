package config

import (
	"encoding/json"
	"fmt"
	"time"
)

// Duration reads "30s"-style strings from JSON. Bare numbers are seconds.
type Duration struct {
	time.Duration
}

func Seconds(n int) Duration {
	return Duration{time.Duration(n) * time.Second}
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var raw interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch v := raw.(type) {
	case string:
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", v, err)
		}
		d.Duration = parsed
	case float64:
		d.Duration = time.Duration(v * float64(time.Second))
	default:
		return fmt.Errorf("invalid duration %s", string(data))
	}
	return nil
}
