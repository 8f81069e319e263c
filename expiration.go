package gcache

import (
	"fmt"
	"time"
)

// Mode is the policy that decides when an entry stops being readable.
type Mode uint8

const (
	ModeNone     Mode = iota // never expires
	ModeAbsolute             // expires after a fixed wall-clock deadline
	ModeSliding              // expires after an idle window since the last read
)

func (m Mode) String() string {
	switch m {
	case ModeNone:
		return "none"
	case ModeAbsolute:
		return "absolute"
	case ModeSliding:
		return "sliding"
	default:
		return fmt.Sprintf("mode(%d)", uint8(m))
	}
}

// Expiration is the per-entry policy sent with every write.
// At is set iff Mode is ModeAbsolute; In is set iff Mode is ModeSliding.
type Expiration struct {
	Mode Mode
	At   time.Time
	In   time.Duration
}

func NoExpiration() Expiration { return Expiration{Mode: ModeNone} }

func ExpiresAt(t time.Time) Expiration { return Expiration{Mode: ModeAbsolute, At: t} }

func ExpiresIn(d time.Duration) Expiration { return Expiration{Mode: ModeSliding, In: d} }

// Validate checks that exactly the field matching Mode is populated.
func (e Expiration) Validate() error {
	switch e.Mode {
	case ModeNone:
		if !e.At.IsZero() || e.In != 0 {
			return fmt.Errorf("%w: mode none carries a deadline", ErrInvalidExpiration)
		}
	case ModeAbsolute:
		if e.At.IsZero() || e.In != 0 {
			return fmt.Errorf("%w: absolute needs a deadline and no window", ErrInvalidExpiration)
		}
	case ModeSliding:
		if e.In <= 0 || !e.At.IsZero() {
			return fmt.Errorf("%w: sliding needs a positive window and no deadline", ErrInvalidExpiration)
		}
	default:
		return fmt.Errorf("%w: %d", ErrUnknownMode, uint8(e.Mode))
	}
	return nil
}
