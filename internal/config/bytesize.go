package config

import (
	"encoding/json"
	"fmt"

	"github.com/dustin/go-humanize"
)

// ByteSize is a byte count written the way people write it: "16MiB",
// "1.5 GB" or a plain "5242880". It formats back in IEC units.
type ByteSize int64

// ParseByteSize accepts SI and IEC suffixes as well as bare numbers.
func ParseByteSize(s string) (ByteSize, error) {
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, fmt.Errorf("byte size %q: %w", s, err)
	}
	return ByteSize(n), nil
}

// Bytes clamps negative sizes to zero.
func (b ByteSize) Bytes() uint64 {
	return uint64(max(b, 0))
}

func (b ByteSize) String() string { return humanize.IBytes(b.Bytes()) }

func (b ByteSize) MarshalText() ([]byte, error) { return []byte(b.String()), nil }

func (b *ByteSize) UnmarshalText(text []byte) error {
	n, err := ParseByteSize(string(text))
	if err == nil {
		*b = n
	}
	return err
}

func (b ByteSize) MarshalJSON() ([]byte, error) { return json.Marshal(b.String()) }

// UnmarshalJSON takes either a string or a raw byte count.
func (b *ByteSize) UnmarshalJSON(data []byte) error {
	var n int64
	if err := json.Unmarshal(data, &n); err == nil {
		*b = ByteSize(n)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("byte size must be a string or integer: %w", err)
	}
	return b.UnmarshalText([]byte(s))
}
