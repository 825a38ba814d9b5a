package device

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// MaxTopicLength is the longest topic, in characters, the transport accepts.
const MaxTopicLength = 128

// topicWildcards are MQTT subscription wildcards, never valid in a publish topic.
const topicWildcards = "+#"

// ValidateTopic checks that topic can be used as a command destination:
// non-empty, at most MaxTopicLength characters, and free of control
// characters, whitespace and wildcards.
func ValidateTopic(topic string) error {
	if topic == "" {
		return fmt.Errorf("%w: empty", ErrInvalidTopic)
	}
	if !utf8.ValidString(topic) {
		return fmt.Errorf("%w: not valid UTF-8", ErrInvalidTopic)
	}
	if n := utf8.RuneCountInString(topic); n > MaxTopicLength {
		return fmt.Errorf("%w: %d characters exceeds %d", ErrInvalidTopic, n, MaxTopicLength)
	}
	if strings.ContainsAny(topic, topicWildcards) {
		return fmt.Errorf("%w: contains wildcard", ErrInvalidTopic)
	}
	for _, r := range topic {
		if unicode.IsControl(r) {
			return fmt.Errorf("%w: contains control character %U", ErrInvalidTopic, r)
		}
		if unicode.IsSpace(r) {
			return fmt.Errorf("%w: contains whitespace", ErrInvalidTopic)
		}
	}
	return nil
}

// ValidateDevice checks a directory record before it enters a snapshot.
func ValidateDevice(d Device) error {
	if err := ValidateTopic(d.Topic); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidDevice, err)
	}
	if strings.TrimSpace(d.Alias) == "" {
		return fmt.Errorf("%w: alias is required", ErrInvalidDevice)
	}
	if strings.TrimSpace(d.Room) == "" {
		return fmt.Errorf("%w: room is required", ErrInvalidDevice)
	}
	return nil
}
