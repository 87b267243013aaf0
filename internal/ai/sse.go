package ai

import (
	"bufio"
	"io"
	"strings"
)

// SSEEvent is a single Server-Sent Event.
type SSEEvent struct {
	Event string
	Data  string
}

// ReadSSE reads an SSE stream and calls fn for each complete event, stopping
// at the first error returned by fn or by the reader.
func ReadSSE(reader io.Reader, fn func(SSEEvent) error) error {
	scanner := bufio.NewScanner(reader)
	// values events carry the whole graph state
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	var currentEvent string
	var dataLines []string

	flush := func() error {
		if len(dataLines) == 0 {
			currentEvent = ""
			return nil
		}
		ev := SSEEvent{Event: currentEvent, Data: strings.Join(dataLines, "\n")}
		currentEvent = ""
		dataLines = nil
		return fn(ev)
	}

	for scanner.Scan() {
		line := scanner.Text()

		switch {
		case line == "":
			if err := flush(); err != nil {
				return err
			}
		case strings.HasPrefix(line, ":"):
			// comment / keep-alive
		case strings.HasPrefix(line, "data:"):
			dataLines = append(dataLines, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		case strings.HasPrefix(line, "event:"):
			currentEvent = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	return flush()
}
