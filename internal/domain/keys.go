package domain

import (
	"fmt"
	"strconv"
	"strings"
)

// Event keys recognised by the scheduler.
const (
	EventEnrollment = "enrollment"
	EventCreatedOn  = "created_on"

	customPrefix   = "custom:"
	activityPrefix = "activity:"
	questionPrefix = "question:"
	finishedSuffix = ":finished"
	answeredSuffix = ":answered"
)

type EventKind string

const (
	EventKindEnrollment       EventKind = "enrollment"
	EventKindCreatedOn        EventKind = "created_on"
	EventKindCustom           EventKind = "custom"
	EventKindActivityFinished EventKind = "activity_finished"
	EventKindQuestionAnswered EventKind = "question_answered"
)

// EventKey is a parsed event key. Name holds the custom event name or the
// activity/question guid.
type EventKey struct {
	Kind EventKind
	Name string
}

func (k EventKey) String() string {
	switch k.Kind {
	case EventKindEnrollment:
		return EventEnrollment
	case EventKindCreatedOn:
		return EventCreatedOn
	case EventKindCustom:
		return CustomEventKey(k.Name)
	case EventKindActivityFinished:
		return ActivityFinishedKey(k.Name)
	case EventKindQuestionAnswered:
		return QuestionAnsweredKey(k.Name)
	}
	return ""
}

// ParseEventKey parses one of the supported event key forms.
func ParseEventKey(raw string) (EventKey, error) {
	key := strings.TrimSpace(raw)
	switch {
	case key == EventEnrollment:
		return EventKey{Kind: EventKindEnrollment}, nil
	case key == EventCreatedOn:
		return EventKey{Kind: EventKindCreatedOn}, nil
	case strings.HasPrefix(key, customPrefix):
		name := strings.TrimPrefix(key, customPrefix)
		if name == "" {
			return EventKey{}, fmt.Errorf("invalid event key %q: missing custom event name", raw)
		}
		return EventKey{Kind: EventKindCustom, Name: name}, nil
	case strings.HasPrefix(key, activityPrefix) && strings.HasSuffix(key, finishedSuffix):
		guid := strings.TrimSuffix(strings.TrimPrefix(key, activityPrefix), finishedSuffix)
		if guid == "" {
			return EventKey{}, fmt.Errorf("invalid event key %q: missing activity guid", raw)
		}
		return EventKey{Kind: EventKindActivityFinished, Name: guid}, nil
	case strings.HasPrefix(key, questionPrefix) && strings.HasSuffix(key, answeredSuffix):
		guid := strings.TrimSuffix(strings.TrimPrefix(key, questionPrefix), answeredSuffix)
		if guid == "" {
			return EventKey{}, fmt.Errorf("invalid event key %q: missing question guid", raw)
		}
		return EventKey{Kind: EventKindQuestionAnswered, Name: guid}, nil
	}
	return EventKey{}, fmt.Errorf("invalid event key %q", raw)
}

func CustomEventKey(name string) string { return customPrefix + name }

func ActivityFinishedKey(guid string) string { return activityPrefix + guid + finishedSuffix }

func QuestionAnsweredKey(guid string) string { return questionPrefix + guid + answeredSuffix }

// ParseClientInfo reads an app descriptor of the form "Name/Version (OS)".
// Missing parts are left zero.
func ParseClientInfo(header string) ClientInfo {
	var info ClientInfo
	header = strings.TrimSpace(header)
	if header == "" {
		return info
	}
	if open := strings.Index(header, "("); open >= 0 {
		if end := strings.Index(header[open:], ")"); end > 0 {
			info.OSName = strings.TrimSpace(header[open+1 : open+end])
		}
		header = strings.TrimSpace(header[:open])
	}
	name, version, found := strings.Cut(header, "/")
	info.AppName = strings.TrimSpace(name)
	if found {
		if v, err := strconv.Atoi(strings.TrimSpace(version)); err == nil && v > 0 {
			info.AppVersion = v
		}
	}
	return info
}
