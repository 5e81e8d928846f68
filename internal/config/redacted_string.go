package config

import (
	"fmt"
	"log/slog"
)

// RedactedString holds secrets that should never be printed in logs or serialized
type RedactedString string

func (r RedactedString) redacted() string {
	return fmt.Sprintf("<redacted-%d-chars>", len(r))
}

func (r RedactedString) String() string {
	return r.redacted()
}

func (r RedactedString) GoString() string {
	return r.redacted()
}

func (r RedactedString) LogValue() slog.Value {
	return slog.StringValue(r.redacted())
}

func (r RedactedString) MarshalText() ([]byte, error) {
	return []byte(r.redacted()), nil
}

func (r RedactedString) MarshalBinary() ([]byte, error) {
	return []byte(r.redacted()), nil
}

func (r RedactedString) MarshalJSON() ([]byte, error) {
	return []byte(fmt.Sprintf("%q", r.redacted())), nil
}

func (r RedactedString) MarshalYAML() (interface{}, error) {
	return r.redacted(), nil
}
