package homework

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies every failure the notifier knows how to report.
//
// Kind implements error so callers can match with errors.Is:
//
//	if errors.Is(err, homework.KindInvalidShape) { ... }
type Kind int

const (
	KindUnknown Kind = iota
	KindConfigMissing
	KindConnectionFailure
	KindUnexpectedStatusCode
	KindMalformedResponseBody
	KindInvalidShape
	KindMissingField
	KindUnrecognizedVerdict
	KindDeliveryFailure
)

func (k Kind) String() string {
	switch k {
	case KindConfigMissing:
		return "config_missing"
	case KindConnectionFailure:
		return "connection_failure"
	case KindUnexpectedStatusCode:
		return "unexpected_status_code"
	case KindMalformedResponseBody:
		return "malformed_response_body"
	case KindInvalidShape:
		return "invalid_shape"
	case KindMissingField:
		return "missing_field"
	case KindUnrecognizedVerdict:
		return "unrecognized_verdict"
	case KindDeliveryFailure:
		return "delivery_failure"
	default:
		return "unknown"
	}
}

func (k Kind) Error() string { return strings.ReplaceAll(k.String(), "_", " ") }

// DiagnosticPrefix starts every failure report sent to the operator.
const DiagnosticPrefix = "Сбой в работе программы: "

// Error is the closed failure type produced by the fetch/validate/parse/send steps.
// Only the fields relevant to Kind are set.
type Error struct {
	Kind Kind

	StatusCode int    // KindUnexpectedStatusCode
	Field      string // KindMissingField, KindInvalidShape, KindConfigMissing
	Status     string // KindUnrecognizedVerdict
	URL        string // KindConnectionFailure

	Err error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.Error())
	switch e.Kind {
	case KindUnexpectedStatusCode:
		fmt.Fprintf(&b, ": %d", e.StatusCode)
	case KindMissingField, KindInvalidShape, KindConfigMissing:
		if e.Field != "" {
			fmt.Fprintf(&b, ": %s", e.Field)
		}
	case KindUnrecognizedVerdict:
		fmt.Fprintf(&b, ": %q", e.Status)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches a Kind target, so errors.Is(err, KindMissingField) works through wrapping.
func (e *Error) Is(target error) bool {
	k, ok := target.(Kind)
	return ok && k == e.Kind
}

// Details renders the operator-facing description of the failure.
func (e *Error) Details() string {
	switch e.Kind {
	case KindConfigMissing:
		return fmt.Sprintf("Отсутствует переменная окружения: %s.", e.Field)
	case KindConnectionFailure:
		return fmt.Sprintf("Эндпоинт API недоступен: %v. url запроса: %s.", e.Err, e.URL)
	case KindUnexpectedStatusCode:
		return fmt.Sprintf("Статус ответа %d.", e.StatusCode)
	case KindMalformedResponseBody:
		return fmt.Sprintf("Ответ API не является корректным JSON: %v.", e.Err)
	case KindInvalidShape:
		return fmt.Sprintf("Неверный тип данных у элемента %s.", e.Field)
	case KindMissingField:
		switch e.Field {
		case FieldStatus:
			return "У домашки нет статуса."
		case FieldHomeworkName:
			return "Домашка не найдена."
		default:
			return fmt.Sprintf("Ожидаемый ключ %s отсутствует в ответе API.", e.Field)
		}
	case KindUnrecognizedVerdict:
		return fmt.Sprintf("Недокументированный статус домашки: %s.", e.Status)
	case KindDeliveryFailure:
		return fmt.Sprintf("Ошибка при отправке сообщения: %v.", e.Err)
	default:
		if e.Err != nil {
			return e.Err.Error()
		}
		return e.Kind.Error()
	}
}

// KindOf returns the Kind carried by err, or KindUnknown.
func KindOf(err error) Kind {
	var he *Error
	if errors.As(err, &he) {
		return he.Kind
	}
	return KindUnknown
}

// Diagnostic formats err as the failure report sent to the operator.
func Diagnostic(err error) string {
	if err == nil {
		return ""
	}
	var he *Error
	if errors.As(err, &he) {
		return DiagnosticPrefix + he.Details()
	}
	return DiagnosticPrefix + err.Error()
}
