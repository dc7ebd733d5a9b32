// Package i18n localizes API-facing messages. Ukrainian is the default
// language; English is the only other supported tag. Machine codes are
// never localized, only the human-readable detail.
package i18n

import (
	"golang.org/x/text/language"
)

var supported = []language.Tag{
	language.Ukrainian, // default
	language.English,
}

var matcher = language.NewMatcher(supported)

// Negotiate resolves an Accept-Language header value to a supported tag.
// An empty or unparsable header falls back to Ukrainian.
func Negotiate(acceptLanguage string) language.Tag {
	if acceptLanguage == "" {
		return language.Ukrainian
	}
	tags, _, err := language.ParseAcceptLanguage(acceptLanguage)
	if err != nil || len(tags) == 0 {
		return language.Ukrainian
	}
	_, idx, _ := matcher.Match(tags...)
	return supported[idx]
}

// T translates a message key for the given tag. Unknown keys are returned
// verbatim so a missing translation never hides the error.
func T(tag language.Tag, key string) string {
	table := uk
	if tag == language.English {
		table = en
	}
	if msg, ok := table[key]; ok {
		return msg
	}
	// Fall back to the other language before giving up.
	if tag != language.English {
		if msg, ok := en[key]; ok {
			return msg
		}
	}
	return key
}

var en = map[string]string{
	"error.not_found":           "resource not found",
	"error.internal":            "internal server error",
	"error.invalid_token":       "invalid or malformed token",
	"error.expired_token":       "token has expired",
	"error.inactive_user":       "user account is inactive",
	"error.unauthorized":        "authentication required",
	"error.invalid_credentials": "invalid email or password",
	"error.validation":          "request validation failed",
	"error.denied":              "you are not allowed to perform this action",
	"error.last_admin":          "a group must keep at least one active admin",
	"error.insufficient_funds":  "insufficient funds for this operation",
	"error.dependency_cycle":    "task dependency would create a cycle",
	"error.invitation_expired":  "the invitation has expired",
	"error.already_accepted":    "the invitation was already accepted",
	"error.duplicate_member":    "the user is already a member of this group",
	"error.duplicate_invite":    "an active invitation for this person already exists",
	"error.team_leader":         "the team leader must be reassigned first",
	"error.email_taken":         "a user with this email already exists",
	"error.debt_cap_exceeded":   "the operation would exceed the group debt limit",

	"error.invalid_transition":        "the task is not in a state that allows this action",
	"error.prerequisites_incomplete":  "prerequisite tasks are not completed yet",
	"error.review_notes_required":     "review notes are required when rejecting",
}

var uk = map[string]string{
	"error.not_found":           "ресурс не знайдено",
	"error.internal":            "внутрішня помилка сервера",
	"error.invalid_token":       "недійсний або пошкоджений токен",
	"error.expired_token":       "термін дії токена вичерпано",
	"error.inactive_user":       "обліковий запис неактивний",
	"error.unauthorized":        "потрібна автентифікація",
	"error.invalid_credentials": "невірна електронна пошта або пароль",
	"error.validation":          "помилка валідації запиту",
	"error.denied":              "у вас немає прав на цю дію",
	"error.last_admin":          "у групі має залишатися принаймні один активний адміністратор",
	"error.insufficient_funds":  "недостатньо коштів для цієї операції",
	"error.dependency_cycle":    "залежність завдань утворила б цикл",
	"error.invitation_expired":  "термін дії запрошення вичерпано",
	"error.already_accepted":    "запрошення вже прийнято",
	"error.duplicate_member":    "користувач уже є учасником цієї групи",
	"error.duplicate_invite":    "активне запрошення для цієї особи вже існує",
	"error.team_leader":         "спершу потрібно призначити нового лідера команди",
	"error.email_taken":         "користувач із такою поштою вже існує",
	"error.debt_cap_exceeded":   "операція перевищила б ліміт боргу групи",

	"error.invalid_transition":        "завдання не у стані, що дозволяє цю дію",
	"error.prerequisites_incomplete":  "попередні завдання ще не виконані",
	"error.review_notes_required":     "при відхиленні потрібно вказати коментар",
}
