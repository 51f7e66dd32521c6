package messagequeue

import (
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks whether data is valid JSON conforming to the schema
// associated with the given subject. Unknown subjects pass validation.
func Validate(subject string, data []byte) error {
	if !json.Valid(data) {
		return fmt.Errorf("invalid JSON on subject %s", subject)
	}

	var target any
	switch subject {
	case SubjectSearchStart:
		target = &SearchStartPayload{}
	case SubjectSearchCancel:
		target = &SearchCancelPayload{}
	case SubjectSearchClose:
		target = &SearchClosePayload{}
	case SubjectSearchComplete:
		target = &SearchCompletePayload{}
	case SubjectSearchTool:
		target = &SearchToolPayload{}
	default:
		return nil
	}

	if err := json.Unmarshal(data, target); err != nil {
		return fmt.Errorf("schema validation failed for %s: %w", subject, err)
	}
	if err := validate.Struct(target); err != nil {
		return fmt.Errorf("schema validation failed for %s: %w", subject, err)
	}
	return nil
}
