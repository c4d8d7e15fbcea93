package protocol

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// Bytes marshals as a JSON array of numbers, the way terminal data travels
// on the wire. Unmarshal also accepts a base64 string.
type Bytes []byte

func (b Bytes) MarshalJSON() ([]byte, error) {
	ints := make([]int, len(b))
	for i, c := range b {
		ints[i] = int(c)
	}
	return json.Marshal(ints)
}

func (b *Bytes) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		decoded, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return fmt.Errorf("terminal data: %w", err)
		}
		*b = decoded
		return nil
	}
	var ints []int
	if err := json.Unmarshal(data, &ints); err != nil {
		return fmt.Errorf("terminal data: %w", err)
	}
	out := make([]byte, len(ints))
	for i, v := range ints {
		if v < 0 || v > 255 {
			return fmt.Errorf("terminal data: byte %d out of range", v)
		}
		out[i] = byte(v)
	}
	*b = out
	return nil
}

type TerminalSize struct {
	Cols int `json:"cols"`
	Rows int `json:"rows"`
}

type WriteTerminal struct {
	ID   string `json:"id"`
	Data Bytes  `json:"data"`
}

type ResizeTerminal struct {
	ID   string `json:"id"`
	Cols int    `json:"cols"`
	Rows int    `json:"rows"`
}

type CloseTerminal struct {
	ID string `json:"id"`
}

type TerminalCreated struct {
	TerminalID string `json:"terminal_id"`
}

type TerminalOutput struct {
	TerminalID string `json:"terminal_id"`
	Data       Bytes  `json:"data"`
}

type TerminalError struct {
	TerminalID string `json:"terminal_id,omitempty"`
	Error      string `json:"error"`
}
