package common

import (
	"encoding/json"
	"io"
	"os"
)

type CIResult struct {
	OK      bool     `json:"ok"`
	Command string   `json:"command"`
	Details []string `json:"details,omitempty"`
	Error   string   `json:"error,omitempty"`
}

func PrintCIResult(ok bool, command string, details []string, err error) {
	WriteCIResult(os.Stdout, ok, command, details, err)
}

func WriteCIResult(w io.Writer, ok bool, command string, details []string, err error) {
	res := CIResult{OK: ok, Command: command, Details: details}
	if err != nil {
		res.Error = err.Error()
	}
	_ = json.NewEncoder(w).Encode(res)
}
