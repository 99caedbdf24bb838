package homework

import "fmt"

// Review statuses returned by the homework API.
const (
	StatusApproved  = "approved"
	StatusReviewing = "reviewing"
	StatusRejected  = "rejected"
)

// Keys of the API payload.
const (
	FieldResponse     = "response"
	FieldHomeworks    = "homeworks"
	FieldHomework     = "homework"
	FieldStatus       = "status"
	FieldHomeworkName = "homework_name"
)

var verdicts = map[string]string{
	StatusApproved:  "Работа проверена: ревьюеру всё понравилось. Ура!",
	StatusReviewing: "Работа взята на проверку ревьюером.",
	StatusRejected:  "Работа проверена: у ревьюера есть замечания.",
}

// Verdict returns the human-readable sentence for a review status.
func Verdict(status string) (string, bool) {
	v, ok := verdicts[status]
	return v, ok
}

// CheckResponse validates a decoded API response and returns its homeworks list.
// The list may be empty.
func CheckResponse(resp any) ([]any, error) {
	m, ok := resp.(map[string]any)
	if !ok {
		return nil, &Error{Kind: KindInvalidShape, Field: FieldResponse}
	}
	raw, ok := m[FieldHomeworks]
	if !ok {
		return nil, &Error{Kind: KindMissingField, Field: FieldHomeworks}
	}
	list, ok := raw.([]any)
	if !ok {
		return nil, &Error{Kind: KindInvalidShape, Field: FieldHomeworks}
	}
	return list, nil
}

// ParseStatus builds the notification text for one homework record.
func ParseStatus(record any) (string, error) {
	m, ok := record.(map[string]any)
	if !ok {
		return "", &Error{Kind: KindInvalidShape, Field: FieldHomework}
	}
	rawStatus, ok := m[FieldStatus]
	if !ok {
		return "", &Error{Kind: KindMissingField, Field: FieldStatus}
	}
	rawName, ok := m[FieldHomeworkName]
	if !ok {
		return "", &Error{Kind: KindMissingField, Field: FieldHomeworkName}
	}
	name, ok := rawName.(string)
	if !ok {
		return "", &Error{Kind: KindInvalidShape, Field: FieldHomeworkName}
	}

	status, _ := rawStatus.(string)
	verdict, ok := Verdict(status)
	if !ok {
		return "", &Error{Kind: KindUnrecognizedVerdict, Status: fmt.Sprint(rawStatus)}
	}
	return StatusMessage(name, verdict), nil
}

// StatusMessage formats the status change notification.
func StatusMessage(name, verdict string) string {
	return fmt.Sprintf("Изменился статус проверки работы \"%s\". %s", name, verdict)
}
