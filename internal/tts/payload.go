package tts

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// synthesizeRequest is the JSON body of POST /synthesize
type synthesizeRequest struct {
	Q     string `json:"q"`
	Voice string `json:"voice"`
	Style string `json:"style"`
	Speed int    `json:"speed"`
	Pitch int    `json:"pitch"`
}

// BuildSSML wraps text in the speak/sfx envelope.
// Markup characters in text are passed through unescaped.
func BuildSSML(text, character, environment string) string {
	return "<speak><sfx character='" + character + "' environment='" + environment + "'>" +
		text + "</sfx></speak>"
}

// BuildPayload serializes the synthesize request body for req
func BuildPayload(req Request) ([]byte, error) {
	body := synthesizeRequest{
		Q:     BuildSSML(req.Text, req.SFXCharacter, req.SFXEnvironment),
		Voice: req.Voice,
		Style: req.Style,
		Speed: req.Speed,
		Pitch: req.Pitch,
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(body); err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
