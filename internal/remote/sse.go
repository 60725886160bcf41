package remote

import (
	"bufio"
	"errors"
	"io"
	"strings"

	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
)

const (
	dataPrefix = "data: "
	doneLine   = "data: [DONE]"
	// contentPath is the required location of the text delta.
	contentPath = "choices.0.delta.content"
)

// decodeSSE reads data frames from r and calls onDelta with each
// choices[0].delta.content value in order. Frames without a content field
// are ignored; malformed JSON is logged and skipped. It returns nil at EOF
// or the terminator, the onDelta error if any, and the raw read error
// otherwise.
func decodeSSE(r io.Reader, log zerolog.Logger, onDelta func(content string) error) error {
	br := bufio.NewReader(r)
	for {
		line, err := br.ReadString('\n')
		if len(line) > 0 {
			line = strings.TrimRight(line, "\r\n")
			if line == doneLine {
				return nil
			}
			if strings.HasPrefix(line, dataPrefix) {
				payload := line[len(dataPrefix):]
				if !gjson.Valid(payload) {
					log.Warn().Str("line", truncate(line, 256)).Msg("skipping malformed stream line")
				} else if c := gjson.Get(payload, contentPath); c.Exists() && c.Type == gjson.String {
					if cbErr := onDelta(c.String()); cbErr != nil {
						return cbErr
					}
				}
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
