package notification

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"text/template"

	"github.com/jackc/pgx/v5"

	"github.com/kudos-app/kudos/pkg/kudos/store"
)

// Rendered is a resolved subject and body pair.
type Rendered struct {
	Subject string
	Body    string
}

const defaultLanguage = "uk"

// renderTemplate resolves the best matching template and executes it over
// the payload. Precedence: group-specific in the requested language,
// group-specific in the default language, then the global variants in the
// same order. No match at all is not an error; the delivery falls back to
// the raw payload.
func renderTemplate(ctx context.Context, q store.Querier, typeCode, channelID, lang string, groupID *string, payload map[string]any) (*Rendered, error) {
	type key struct {
		lang    string
		groupID *string
	}
	candidates := []key{
		{lang, groupID},
		{defaultLanguage, groupID},
		{lang, nil},
		{defaultLanguage, nil},
	}
	if groupID == nil {
		candidates = candidates[2:]
	}

	var subject *string
	var body string
	found := false
	for _, c := range candidates {
		err := q.QueryRow(ctx, `
			SELECT subject, body FROM notification_templates
			WHERE type_code = $1 AND channel_id = $2 AND language = $3
			  AND group_id IS NOT DISTINCT FROM $4`,
			typeCode, channelID, c.lang, c.groupID).Scan(&subject, &body)
		if err == nil {
			found = true
			break
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("notification: load template: %w", err)
		}
	}
	if !found {
		return nil, nil
	}

	out := &Rendered{}
	if subject != nil {
		rendered, err := execute(*subject, payload)
		if err != nil {
			return nil, err
		}
		out.Subject = rendered
	}
	rendered, err := execute(body, payload)
	if err != nil {
		return nil, err
	}
	out.Body = rendered
	return out, nil
}

func execute(text string, payload map[string]any) (string, error) {
	tpl, err := template.New("notification").Option("missingkey=zero").Parse(text)
	if err != nil {
		return "", fmt.Errorf("notification: parse template: %w", err)
	}
	var buf bytes.Buffer
	if err := tpl.Execute(&buf, payload); err != nil {
		return "", fmt.Errorf("notification: execute template: %w", err)
	}
	return buf.String(), nil
}
