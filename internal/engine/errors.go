package engine

import "strings"

// Kind is the closed taxonomy of upstream failure modes. Raw engine errors
// are pattern-matched into a Kind so callers can map them to a stable
// disposition instead of parsing free text themselves.
type Kind int

const (
	KindUnknown Kind = iota
	KindBotCheck
	KindAgeRestricted
	KindGeoBlocked
	KindFormatUnavailable
)

// Error carries a classified upstream failure with an actionable message.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string { return e.Message }

// Classify maps a raw engine failure onto the closed error taxonomy by
// matching its message text case-insensitively. Non-engine errors fall
// through as KindUnknown with their message preserved.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())

	switch {
	case containsAny(msg, "sign in", "bot", "403", "forbidden", "cookie"):
		return &Error{
			Kind:    KindBotCheck,
			Message: "YouTube is blocking automated requests from this server; refresh credentials and try again later",
		}
	case strings.Contains(msg, "age") && containsAny(msg, "restrict", "confirm"):
		return &Error{
			Kind:    KindAgeRestricted,
			Message: "this video is age-restricted and requires signed-in credentials",
		}
	case containsAny(msg, "not available in your country", "geoblocked", "geo"):
		return &Error{
			Kind:    KindGeoBlocked,
			Message: "this video is not available in your region",
		}
	case strings.Contains(msg, "requested format is not available"):
		return &Error{
			Kind:    KindFormatUnavailable,
			Message: "requested quality is not available for this video; try a lower resolution",
		}
	default:
		return &Error{Kind: KindUnknown, Message: err.Error()}
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
