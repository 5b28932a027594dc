package config

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// GreetingMessages are sent when a user shows up without an active session.
type GreetingMessages struct {
	Welcome     string `yaml:"welcome"`
	Return      string `yaml:"return"`
	NoName      string `yaml:"no_name"`
	NoNameOther string `yaml:"no_name_other"`
}

// FallbackMessages answer input the engines cannot act on.
type FallbackMessages struct {
	Unknown             string `yaml:"unknown"`
	InvalidSelection    string `yaml:"invalid_selection"`
	FunctionUnavailable string `yaml:"function_unavailable"`
	UnknownAction       string `yaml:"unknown_action"`
}

// ErrorMessages are shown when something breaks on our side.
type ErrorMessages struct {
	Generic string `yaml:"generic"`
	System  string `yaml:"system"`
}

// EnrollmentMessages cover the club registration happy path.
type EnrollmentMessages struct {
	Confirmation  string `yaml:"confirmation"`
	MenuHint      string `yaml:"menu_hint"`
	AlreadyMember string `yaml:"already_member"`
}

// Messages is the fixed outbound message catalog. It is part of the loaded
// configuration so engines receive it by injection rather than reading a
// package-level table.
type Messages struct {
	Greetings  GreetingMessages   `yaml:"greetings"`
	Fallback   FallbackMessages   `yaml:"fallback"`
	Errors     ErrorMessages      `yaml:"errors"`
	Enrollment EnrollmentMessages `yaml:"enrollment"`
}

// ApplyDefaults fills any catalog entry left empty by the config file.
func (m *Messages) ApplyDefaults() {
	setDefault(&m.Greetings.Welcome, "Hi {{name}}! Great to see you here again 👋")
	setDefault(&m.Greetings.Return, "{{name}}, happy to help with anything else 😊")
	setDefault(&m.Greetings.NoName, "Welcome! You are one step away from joining the Club 🙌🤩")
	setDefault(&m.Greetings.NoNameOther, "Welcome! I hope you are doing great 😊")

	setDefault(&m.Fallback.Unknown, "⚠️ We could not understand your message.")
	setDefault(&m.Fallback.InvalidSelection, "⚠️ We could not process your selection.")
	setDefault(&m.Fallback.FunctionUnavailable, "⚠️ That function is not available.")
	setDefault(&m.Fallback.UnknownAction, "⚠️ That action is not recognized.")

	setDefault(&m.Errors.Generic, "😓 Something went wrong while handling your request.")
	setDefault(&m.Errors.System, "❌ An unexpected error occurred. We are working on it.")

	setDefault(&m.Enrollment.Confirmation, "Thanks {{name}}! Your registration was successful. *Welcome to the Club* 🥳")
	setDefault(&m.Enrollment.MenuHint, "Text me \"menu\" whenever you want to see everything you can do")
	setDefault(&m.Enrollment.AlreadyMember, "Hi {{name}}! You are already part of the Club 🎉. If you need help, just text \"menu\".")
}

func setDefault(field *string, value string) {
	if strings.TrimSpace(*field) == "" {
		*field = value
	}
}

// Render substitutes {{key}} placeholders in a catalog template. Unknown
// placeholders render as empty strings.
func Render(tpl string, params map[string]string) string {
	var b strings.Builder
	for {
		start := strings.Index(tpl, "{{")
		if start < 0 {
			b.WriteString(tpl)
			return b.String()
		}
		end := strings.Index(tpl[start:], "}}")
		if end < 0 {
			b.WriteString(tpl)
			return b.String()
		}
		b.WriteString(tpl[:start])
		key := strings.TrimSpace(tpl[start+2 : start+end])
		b.WriteString(params[key])
		tpl = tpl[start+end+2:]
	}
}

// CapitalizeFirst upper-cases the first letter of a name for greetings.
func CapitalizeFirst(s string) string {
	if s == "" {
		return ""
	}
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}
