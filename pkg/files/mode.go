package files

import (
	"fmt"

	"github.com/odvcencio/reftree/pkg/object"
)

// Mode selects the file mode a write records.
type Mode int

const (
	// KeepMode keeps the mode of the file being replaced. New files are
	// regular.
	KeepMode Mode = iota
	Regular
	Executable
)

func (m Mode) treeMode() string {
	switch m {
	case Regular:
		return object.FileMode(false)
	case Executable:
		return object.FileMode(true)
	default:
		return ""
	}
}

func (m Mode) String() string {
	switch m {
	case Regular:
		return "regular"
	case Executable:
		return "executable"
	default:
		return "keep"
	}
}

// MarshalText encodes m as "keep", "regular" or "executable".
func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText accepts the names MarshalText produces. An empty value is
// KeepMode.
func (m *Mode) UnmarshalText(text []byte) error {
	switch string(text) {
	case "", "keep":
		*m = KeepMode
	case "regular":
		*m = Regular
	case "executable":
		*m = Executable
	default:
		return fmt.Errorf("unknown file mode %q", text)
	}
	return nil
}
