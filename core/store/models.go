package store

import (
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// ConversationKind distinguishes the two session types a user can hold.
type ConversationKind string

const (
	// KindFlow marks a guided multi-step interaction.
	KindFlow ConversationKind = "flow"
	// KindMenu marks an option-selection session.
	KindMenu ConversationKind = "menu"
)

// EffectKind enumerates what a menu option does when selected.
const (
	EffectOpenMenu  = "OPEN_MENU"
	EffectStartFlow = "START_FLOW"
	EffectFunction  = "FUNCTION"
)

// User is a person identified by their WhatsApp phone number.
type User struct {
	ID         int64          `db:"id"`
	Phone      string         `db:"phone"`
	Name       sql.NullString `db:"name"`
	Email      sql.NullString `db:"email"`
	JoinedClub bool           `db:"joined_club"`
	CreatedAt  time.Time      `db:"created_at"`
	UpdatedAt  time.Time      `db:"updated_at"`
}

// Answers maps a flow step key to the text the user answered with. It is
// stored as a jsonb column.
type Answers map[string]string

// Value implements driver.Valuer.
func (a Answers) Value() (driver.Value, error) {
	if a == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(a)
}

// Scan implements sql.Scanner.
func (a *Answers) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*a = Answers{}
		return nil
	case []byte:
		return json.Unmarshal(v, a)
	case string:
		return json.Unmarshal([]byte(v), a)
	default:
		return fmt.Errorf("answers: unsupported scan type %T", src)
	}
}

// Clone returns a copy safe to mutate before writing back.
func (a Answers) Clone() Answers {
	out := make(Answers, len(a)+1)
	for k, v := range a {
		out[k] = v
	}
	return out
}

// Conversation is one flow or menu session for a user. It is treated as
// active while completed is false and expires_at lies in the future.
type Conversation struct {
	ID             int64            `db:"id"`
	UserID         int64            `db:"user_id"`
	Kind           ConversationKind `db:"kind"`
	Name           string           `db:"name"`
	CurrentStepKey sql.NullString   `db:"current_step_key"`
	Answers        Answers          `db:"answers"`
	Completed      bool             `db:"completed"`
	CreatedAt      time.Time        `db:"created_at"`
	UpdatedAt      time.Time        `db:"updated_at"`
	ExpiresAt      time.Time        `db:"expires_at"`
}

// FlowStep is a static catalog entry describing one step of a flow.
// display_order is the sole sequencing mechanism.
type FlowStep struct {
	FlowName     string         `db:"flow_name"`
	StepKey      string         `db:"step_key"`
	DisplayOrder int            `db:"display_order"`
	Active       bool           `db:"active"`
	ExpectsInput bool           `db:"expects_input"`
	Effect       sql.NullString `db:"effect"`
	IsFinal      bool           `db:"is_final"`
	QuestionText string         `db:"question_text"`
}

// Menu is a named, presentable option set.
type Menu struct {
	MenuName string `db:"menu_name"`
	Title    string `db:"title"`
	Active   bool   `db:"active"`
}

// MenuOption is one selectable entry of a menu, ordered by position.
type MenuOption struct {
	MenuName     string `db:"menu_name"`
	OptionID     string `db:"option_id"`
	DisplayText  string `db:"display_text"`
	EffectKind   string `db:"effect_kind"`
	EffectTarget string `db:"effect_target"`
	Position     int    `db:"position"`
	Active       bool   `db:"active"`
}

// UserUpdate carries the profile fields a partial update may touch.
// Nil fields are left untouched; updated_at is always stamped.
type UserUpdate struct {
	Name       *string
	Email      *string
	JoinedClub *bool
}

// IsEmpty reports whether the update would change nothing.
func (u UserUpdate) IsEmpty() bool {
	return u.Name == nil && u.Email == nil && u.JoinedClub == nil
}
