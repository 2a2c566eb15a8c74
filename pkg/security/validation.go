package security

import (
	"fmt"
	"strings"
)

// StringValidator validates string input with length and content constraints
type StringValidator struct {
	MinLength            int
	MaxLength            int
	DisallowNullBytes    bool
	DisallowControlChars bool
}

// Validate checks if the value meets all constraints
func (v *StringValidator) Validate(str string) error {
	if v.MinLength > 0 && len(str) < v.MinLength {
		return fmt.Errorf("string too short: minimum %d characters", v.MinLength)
	}

	if v.MaxLength > 0 && len(str) > v.MaxLength {
		return fmt.Errorf("string exceeds max length %d", v.MaxLength)
	}

	if v.DisallowNullBytes && strings.Contains(str, "\x00") {
		return fmt.Errorf("string contains null bytes")
	}

	if v.DisallowControlChars {
		for _, r := range str {
			if r < 32 && r != '\n' && r != '\t' && r != '\r' {
				return fmt.Errorf("string contains control characters")
			}
		}
	}

	return nil
}

var (
	topicValidator = &StringValidator{
		MinLength:            1,
		MaxLength:            200,
		DisallowNullBytes:    true,
		DisallowControlChars: true,
	}

	responseValidator = &StringValidator{
		MinLength:            1,
		MaxLength:            8000,
		DisallowNullBytes:    true,
		DisallowControlChars: true,
	}

	contextValidator = &StringValidator{
		MaxLength:            2000,
		DisallowNullBytes:    true,
		DisallowControlChars: true,
	}
)

// ValidateTopic validates a learning topic supplied by the student
func ValidateTopic(topic string) error {
	if strings.TrimSpace(topic) == "" {
		return fmt.Errorf("topic is required")
	}
	return topicValidator.Validate(topic)
}

// ValidateResponse validates a student's answer text
func ValidateResponse(response string) error {
	if strings.TrimSpace(response) == "" {
		return fmt.Errorf("response is required")
	}
	return responseValidator.Validate(response)
}

// ValidateContext validates the optional learning context text
func ValidateContext(learningContext string) error {
	return contextValidator.Validate(learningContext)
}
