package reliability

import "errors"

// UserMessage renders a single human-readable line for a failure class.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	switch KindOf(err) {
	case KindValidation:
		var e *Error
		if errors.As(err, &e) && e.Message != "" {
			return e.Message
		}
		return "Please check your input and try again."
	case KindUnauthorized:
		return "Your session has expired. Please sign in again."
	case KindRateLimited:
		return "The assistant is busy right now. Please wait a moment and send your message again."
	case KindNotFound:
		return "The document was not found."
	case KindForbidden:
		return "You do not have access to this document."
	case KindServer:
		return "The server could not process the request. Please try again later."
	case KindNetwork:
		return "Could not reach the server. Check your internet connection."
	case KindEmptyPayload:
		return "The server returned an empty document. Please try again later."
	default:
		return "An unexpected error occurred."
	}
}

// TurnFailureMessage is the text of the synthetic assistant turn appended when
// sending a chat message fails.
func TurnFailureMessage(err error) string {
	switch KindOf(err) {
	case KindRateLimited:
		return UserMessage(err)
	case KindNetwork:
		return "Your message could not be delivered: the server is unreachable. Please try sending it again."
	case KindUnauthorized:
		return "Your message could not be delivered because your session has expired. Please sign in and try again."
	default:
		return "An error occurred while sending your message. Please try again."
	}
}
