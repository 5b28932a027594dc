package whatsapp

import (
	"fmt"
)

// WhatsApp Cloud API limits for interactive messages.
const (
	maxHeaderLen      = 60
	maxFooterLen      = 60
	maxButtons        = 3
	maxListRows       = 10
	maxButtonTitleLen = 20
	maxListTitleLen   = 24
	maxListDescLen    = 72
)

// Strategy selects the interactive layout.
type Strategy string

const (
	// StrategyAuto picks buttons for up to 3 options, a list otherwise.
	StrategyAuto Strategy = "auto"
	// StrategyButton forces the reply-button layout.
	StrategyButton Strategy = "button"
	// StrategyList forces the list layout.
	StrategyList Strategy = "list"
)

// ValidationError reports an interactive payload that violates channel limits.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "interactive payload: " + e.Reason
}

func validationErrorf(format string, args ...any) error {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// Option is one selectable entry offered to the user.
type Option struct {
	ID          string
	Title       string
	Description string
}

// Interactive is the Cloud API interactive message object.
type Interactive struct {
	Type   string  `json:"type"`
	Header *Header `json:"header,omitempty"`
	Body   Body    `json:"body"`
	Footer *Footer `json:"footer,omitempty"`
	Action Action  `json:"action"`
}

// Header is the interactive message header.
type Header struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Body is the interactive message body.
type Body struct {
	Text string `json:"text"`
}

// Footer is the optional interactive message footer.
type Footer struct {
	Text string `json:"text"`
}

// Action carries either reply buttons or list sections, depending on Type.
type Action struct {
	Buttons  []ReplyButton `json:"buttons,omitempty"`
	Button   string        `json:"button,omitempty"`
	Sections []Section     `json:"sections,omitempty"`
}

// ReplyButton is one tappable reply button.
type ReplyButton struct {
	Type  string      `json:"type"`
	Reply ButtonReply `json:"reply"`
}

// ButtonReply identifies the button the user tapped.
type ButtonReply struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// Section groups rows of a list message.
type Section struct {
	Title string `json:"title"`
	Rows  []Row  `json:"rows"`
}

// Row is one entry of a list message.
type Row struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

// BuildInteractive validates menu content against the channel's limits and
// produces the interactive message object. The auto strategy uses buttons
// for up to 3 options and a list beyond that.
func BuildInteractive(header, footer string, options []Option, strategy Strategy) (*Interactive, error) {
	if header == "" {
		return nil, validationErrorf("header is required")
	}
	if len([]rune(header)) > maxHeaderLen {
		return nil, validationErrorf("header exceeds %d characters", maxHeaderLen)
	}
	if footer != "" && len([]rune(footer)) > maxFooterLen {
		return nil, validationErrorf("footer exceeds %d characters", maxFooterLen)
	}

	valid := make([]Option, 0, len(options))
	for _, opt := range options {
		if opt.ID == "" || opt.Title == "" {
			continue
		}
		valid = append(valid, opt)
	}
	if len(valid) == 0 {
		return nil, validationErrorf("no valid options to present")
	}

	var layout Strategy
	switch strategy {
	case StrategyAuto, "":
		if len(valid) <= maxButtons {
			layout = StrategyButton
		} else {
			layout = StrategyList
		}
	case StrategyButton, StrategyList:
		layout = strategy
	default:
		return nil, validationErrorf("unknown strategy %q", strategy)
	}

	if layout == StrategyButton && len(valid) > maxButtons {
		return nil, validationErrorf("button layout allows at most %d options, got %d", maxButtons, len(valid))
	}
	if layout == StrategyList && len(valid) > maxListRows {
		return nil, validationErrorf("list layout allows at most %d options, got %d", maxListRows, len(valid))
	}

	msg := &Interactive{
		Type:   string(layout),
		Header: &Header{Type: "text", Text: header},
		Body:   Body{Text: "Choose an option:"},
	}
	if footer != "" {
		msg.Footer = &Footer{Text: footer}
	}

	if layout == StrategyButton {
		buttons := make([]ReplyButton, 0, len(valid))
		for _, opt := range valid {
			buttons = append(buttons, ReplyButton{
				Type: "reply",
				Reply: ButtonReply{
					ID:    opt.ID,
					Title: truncate(opt.Title, maxButtonTitleLen),
				},
			})
		}
		msg.Action = Action{Buttons: buttons}
		return msg, nil
	}

	rows := make([]Row, 0, len(valid))
	for _, opt := range valid {
		rows = append(rows, Row{
			ID:          opt.ID,
			Title:       truncate(opt.Title, maxListTitleLen),
			Description: truncate(opt.Description, maxListDescLen),
		})
	}
	msg.Action = Action{
		Button: "View options",
		Sections: []Section{{
			Title: "Available options",
			Rows:  rows,
		}},
	}
	return msg, nil
}

func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
