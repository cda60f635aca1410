package flagparse

import (
	"fmt"

	"github.com/piperlabs/piper-provision/pkg/util"
)

// Command defines the operation to execute.
type Command int

const (
	None Command = iota
	Provision
	Verify
	Snapshot
	Init
	Serve
	Watch
	Version
)

var commandToString = map[Command]string{
	None:      "none",
	Provision: "provision",
	Verify:    "verify",
	Snapshot:  "snapshot",
	Init:      "init",
	Serve:     "serve",
	Watch:     "watch",
	Version:   "version",
}

var stringToCommand map[string]Command

func init() {
	stringToCommand = util.InvertMap(commandToString)
}

func (c Command) String() string {
	if str, ok := commandToString[c]; ok {
		return str
	}
	return fmt.Sprintf("unknown_command(%d)", c)
}

func ParseCommand(s string) (Command, error) {
	if command, ok := stringToCommand[s]; ok {
		return command, nil
	}
	return None, fmt.Errorf("invalid command: %q. Must be 'provision', 'verify', 'snapshot', 'init', 'serve', 'watch', or 'version'", s)
}
