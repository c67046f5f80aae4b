// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package frame

import (
	"fmt"
	"strings"
)

// Command is an external instruction for a pass.
type Command int

// Pass control commands
const (
	Enable Command = iota
	Disable
	Toggle
	Rerecord
)

func (c Command) String() string {
	switch c {
	case Enable:
		return "enable"
	case Disable:
		return "disable"
	case Toggle:
		return "toggle"
	case Rerecord:
		return "rerecord"
	default:
		return "unknown"
	}
}

// ParseCommand parses the textual form of a command.
func ParseCommand(s string) (Command, error) {
	switch strings.ToLower(s) {
	case "enable":
		return Enable, nil
	case "disable":
		return Disable, nil
	case "toggle":
		return Toggle, nil
	case "rerecord":
		return Rerecord, nil
	}
	return 0, fmt.Errorf("unknown pass command %q", s)
}

// Control targets a command at the pass called Pass.
type Control struct {
	Command Command
	Pass    string
}

func (c Control) String() string {
	return c.Command.String() + " " + c.Pass
}
