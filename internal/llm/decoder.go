package llm

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Framing describes how a streamed body is split into payloads
type Framing int

const (
	// FramingSSE reads "data: <payload>" lines and ignores everything else
	FramingSSE Framing = iota
	// FramingNDJSON treats every non-blank line as a payload
	FramingNDJSON
)

// DoneSentinel terminates an SSE stream early
const DoneSentinel = "[DONE]"

// ChunkParser extracts the text delta from one payload. Returning done ends
// the stream; ErrMalformedChunk skips the payload; any other error is fatal.
type ChunkParser func(payload []byte) (delta string, done bool, err error)

// Decoder turns a raw streamed response body into text deltas
type Decoder struct {
	body    io.ReadCloser
	r       *bufio.Reader
	framing Framing
	parse   ChunkParser
	done    bool
}

// NewDecoder creates an incremental decoder over body
func NewDecoder(body io.ReadCloser, framing Framing, parse ChunkParser) *Decoder {
	return &Decoder{
		body:    body,
		r:       bufio.NewReader(body),
		framing: framing,
		parse:   parse,
	}
}

// Recv returns the next non-empty text delta, or io.EOF at the end
func (d *Decoder) Recv() (string, error) {
	for !d.done {
		line, readErr := d.r.ReadString('\n')
		if readErr != nil && readErr != io.EOF {
			d.done = true
			return "", fmt.Errorf("failed to read stream: %w", readErr)
		}
		if readErr == io.EOF {
			d.done = true
		}

		payload, ok := d.payload(line)
		if !ok {
			continue
		}

		delta, done, err := d.parse(payload)
		if err != nil {
			if errors.Is(err, ErrMalformedChunk) {
				continue
			}
			d.done = true
			return "", err
		}
		if done {
			d.done = true
		}
		if delta != "" {
			return delta, nil
		}
	}
	return "", io.EOF
}

// payload strips framing from a raw line; ok is false for lines that carry
// nothing. The SSE sentinel marks the decoder done.
func (d *Decoder) payload(line string) ([]byte, bool) {
	line = strings.TrimRight(line, "\r\n")
	if strings.TrimSpace(line) == "" {
		return nil, false
	}

	switch d.framing {
	case FramingSSE:
		if !strings.HasPrefix(line, "data:") {
			return nil, false
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == DoneSentinel {
			d.done = true
			return nil, false
		}
		if data == "" {
			return nil, false
		}
		return []byte(data), true
	default:
		return []byte(strings.TrimSpace(line)), true
	}
}

// Close releases the underlying body
func (d *Decoder) Close() error {
	d.done = true
	return d.body.Close()
}

// ParseChatCompletionChunk handles the OpenAI-compatible chunk shape
// {choices:[{delta:{content}}]}. An in-band {error:{message}} is fatal.
func ParseChatCompletionChunk(payload []byte) (string, bool, error) {
	var chunk struct {
		Choices []struct {
			Delta struct {
				Content string `json:"content"`
			} `json:"delta"`
		} `json:"choices"`
		Error *struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(payload, &chunk); err != nil {
		return "", false, ErrMalformedChunk
	}
	if chunk.Error != nil && chunk.Error.Message != "" {
		return "", true, errors.New(chunk.Error.Message)
	}

	if len(chunk.Choices) == 0 {
		return "", false, nil
	}
	return chunk.Choices[0].Delta.Content, false, nil
}
