package agent

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// DecodeStructured validates raw model output against schema and decodes it
// into out. It fails closed: anything that is not a schema-valid JSON object
// is an ErrClassification.
func DecodeStructured(schema json.RawMessage, raw string, out any) error {
	body := stripCodeFence(raw)
	if body == "" {
		return fmt.Errorf("%w: empty response", ErrClassification)
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewBytesLoader(schema),
		gojsonschema.NewStringLoader(body),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrClassification, err)
	}

	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return fmt.Errorf("%w: %s", ErrClassification, strings.Join(msgs, "; "))
	}

	if err := json.Unmarshal([]byte(body), out); err != nil {
		return fmt.Errorf("%w: decoding: %v", ErrClassification, err)
	}

	return nil
}

func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
