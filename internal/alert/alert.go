package alert

import (
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"eventra/internal/event"

	"github.com/nicksnyder/go-i18n/v2/i18n"
	"golang.org/x/text/language"
)

//go:embed locales/*.json
var localeFS embed.FS

// Alert is one rendered, user-visible notification.
type Alert struct {
	ID       event.AlertID
	EventID  int64
	Kind     event.Kind
	Title    string
	Text     string
	Body     string
	At       time.Time
	Language string
}

// Message ids in locales/active.<lang>.json.
const (
	keyTimeLayout = "TimeLayout"

	keyReminderTitle = "ReminderTitle"
	keyReminderText  = "ReminderText"
	keyReminderBody  = "ReminderBody"
	keyStartTitle    = "StartTitle"
	keyStartText     = "StartText"
	keyStartBody     = "StartBody"
	keyEndTitle      = "EndTitle"
	keyEndText       = "EndText"
	keyEndBody       = "EndBody"
)

var messageKeys = []string{
	keyTimeLayout,
	keyReminderTitle, keyReminderText, keyReminderBody,
	keyStartTitle, keyStartText, keyStartBody,
	keyEndTitle, keyEndText, keyEndBody,
}

// Renderer turns an event and a kind into localized alert text.
type Renderer struct {
	bundle    *i18n.Bundle
	languages []string
	loc       *time.Location
}

// NewRenderer loads the embedded locales. loc selects the zone used for
// formatted times; nil means time.Local.
func NewRenderer(loc *time.Location) (*Renderer, error) {
	bundle := i18n.NewBundle(language.English)
	bundle.RegisterUnmarshalFunc("json", json.Unmarshal)

	entries, err := localeFS.ReadDir("locales")
	if err != nil {
		return nil, fmt.Errorf("read locales: %w", err)
	}
	var langs []string
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, "active.") || !strings.HasSuffix(name, ".json") {
			continue
		}
		code := strings.TrimSuffix(strings.TrimPrefix(name, "active."), ".json")
		if code == "" {
			continue
		}
		if _, err := bundle.LoadMessageFileFS(localeFS, "locales/"+name); err != nil {
			return nil, fmt.Errorf("load locale %s: %w", name, err)
		}
		langs = append(langs, code)
	}
	sort.Strings(langs)
	if loc == nil {
		loc = time.Local
	}
	return &Renderer{bundle: bundle, languages: langs, loc: loc}, nil
}

// Languages lists the loaded language codes.
func (r *Renderer) Languages() []string { return append([]string(nil), r.languages...) }

// Supports reports whether lang has its own locale file.
func (r *Renderer) Supports(lang string) bool {
	lang = strings.ToLower(strings.TrimSpace(lang))
	for _, l := range r.languages {
		if l == lang {
			return true
		}
	}
	return false
}

// Render produces the alert for (rec, kind). Unknown languages fall back to
// English.
func (r *Renderer) Render(rec event.Record, kind event.Kind, lang string) (Alert, error) {
	lang = strings.ToLower(strings.TrimSpace(lang))
	if lang == "" || !r.Supports(lang) {
		lang = "en"
	}
	loc := i18n.NewLocalizer(r.bundle, lang, "en")

	at := rec.Start
	var titleKey, textKey, bodyKey string
	switch kind {
	case event.KindReminder:
		titleKey, textKey, bodyKey = keyReminderTitle, keyReminderText, keyReminderBody
	case event.KindStart:
		titleKey, textKey, bodyKey = keyStartTitle, keyStartText, keyStartBody
	case event.KindEnd:
		if rec.End == nil {
			return Alert{}, errors.New("end alert for event without end time")
		}
		at = *rec.End
		titleKey, textKey, bodyKey = keyEndTitle, keyEndText, keyEndBody
	default:
		return Alert{}, fmt.Errorf("unknown alert kind %d", int(kind))
	}

	layout, err := loc.Localize(&i18n.LocalizeConfig{MessageID: keyTimeLayout})
	if err != nil {
		layout = "15:04"
	}
	data := map[string]interface{}{
		"Title": rec.Title,
		"Time":  at.In(r.loc).Format(layout),
		"Count": rec.ReminderOffsetMinutes,
	}

	out := Alert{
		ID:       event.AlertIDFor(rec.ID, kind),
		EventID:  rec.ID,
		Kind:     kind,
		At:       at,
		Language: lang,
	}
	if out.Title, err = loc.Localize(&i18n.LocalizeConfig{MessageID: titleKey, TemplateData: data}); err != nil {
		return Alert{}, fmt.Errorf("localize %s: %w", titleKey, err)
	}
	textCfg := &i18n.LocalizeConfig{MessageID: textKey, TemplateData: data}
	if kind == event.KindReminder {
		textCfg.PluralCount = rec.ReminderOffsetMinutes
	}
	if out.Text, err = loc.Localize(textCfg); err != nil {
		return Alert{}, fmt.Errorf("localize %s: %w", textKey, err)
	}
	body, err := loc.Localize(&i18n.LocalizeConfig{MessageID: bodyKey, TemplateData: data})
	if err != nil {
		return Alert{}, fmt.Errorf("localize %s: %w", bodyKey, err)
	}
	if d := strings.TrimSpace(rec.Description); d != "" {
		body += "\n\n" + d
	}
	out.Body = body
	return out, nil
}
