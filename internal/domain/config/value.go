package config

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/bytedance/sonic"
)

// kind discriminates the two value shapes the config file may hold.
type kind int

const (
	kindString kind = iota
	kindInt
)

func (k kind) String() string {
	if k == kindInt {
		return "integer"
	}
	return "string"
}

// Value is one configuration value, either a string or an integer. It
// marshals as the bare JSON scalar, so the persisted file stays a plain
// name-to-value map.
type Value struct {
	kind kind
	str  string
	num  int
}

func stringValue(s string) Value { return Value{kind: kindString, str: s} }

func intValue(n int) Value { return Value{kind: kindInt, num: n} }

// String renders the value for logs and error messages.
func (v Value) String() string {
	if v.kind == kindInt {
		return strconv.Itoa(v.num)
	}
	return v.str
}

// MarshalJSON emits the underlying scalar without any wrapper object.
func (v Value) MarshalJSON() ([]byte, error) {
	if v.kind == kindInt {
		return []byte(strconv.Itoa(v.num)), nil
	}
	return sonic.Marshal(v.str)
}

// UnmarshalJSON accepts a JSON string or integer and rejects everything
// else, matching what the config file may legally contain.
func (v *Value) UnmarshalJSON(data []byte) error {
	text := strings.TrimSpace(string(data))
	if text == "" {
		return fmt.Errorf("empty config value")
	}
	if text[0] == '"' {
		var s string
		if err := sonic.Unmarshal(data, &s); err != nil {
			return err
		}
		*v = stringValue(s)
		return nil
	}
	n, err := strconv.Atoi(text)
	if err != nil {
		return fmt.Errorf("config value must be a string or an integer, got %s", text)
	}
	*v = intValue(n)
	return nil
}
