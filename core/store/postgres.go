package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/petclub/wabot/core/logger"
)

// Postgres persists users and conversations in a relational store. Lookup
// methods return a nil record (not an error) when nothing matched; errors are
// reserved for store failures.
type Postgres struct {
	db *sqlx.DB
}

// NewPostgres wraps an open sqlx handle.
func NewPostgres(db *sqlx.DB) *Postgres {
	return &Postgres{db: db}
}

const findUserByPhoneSQL = `
	SELECT id, phone, name, email, joined_club, created_at, updated_at
	FROM users
	WHERE phone = $1
	LIMIT 1`

// FindUserByPhone returns the user for a phone number, or nil when unknown.
func (p *Postgres) FindUserByPhone(ctx context.Context, phone string) (*User, error) {
	var u User
	err := p.db.GetContext(ctx, &u, findUserByPhoneSQL, phone)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find user by phone: %w", err)
	}
	return &u, nil
}

// CreateUserIfAbsent inserts a user row for the phone unless one exists.
func (p *Postgres) CreateUserIfAbsent(ctx context.Context, phone string) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO users (phone)
		VALUES ($1)
		ON CONFLICT (phone) DO NOTHING`, phone)
	if err != nil {
		return fmt.Errorf("create user if absent: %w", err)
	}
	return nil
}

// UpdateUserFields applies a partial profile update, always stamping updated_at.
func (p *Postgres) UpdateUserFields(ctx context.Context, phone string, update UserUpdate) error {
	if update.IsEmpty() {
		return nil
	}

	var (
		sets []string
		args []any
		idx  = 1
	)
	add := func(column string, value any) {
		sets = append(sets, fmt.Sprintf("%s = $%d", column, idx))
		args = append(args, value)
		idx++
	}
	if update.Name != nil {
		add("name", *update.Name)
	}
	if update.Email != nil {
		add("email", *update.Email)
	}
	if update.JoinedClub != nil {
		add("joined_club", *update.JoinedClub)
	}
	sets = append(sets, "updated_at = NOW()")
	args = append(args, phone)

	query := fmt.Sprintf("UPDATE users SET %s WHERE phone = $%d", strings.Join(sets, ", "), idx)
	res, err := p.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update user fields: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		logger.Store.Warn("user update matched no rows",
			slog.String("event", "user.update"),
			slog.String("phone", phone),
		)
	}
	return nil
}

const activeConversationSQL = `
	SELECT c.id, c.user_id, c.kind, c.name, c.current_step_key, c.answers,
	       c.completed, c.created_at, c.updated_at, c.expires_at
	FROM conversations c
	JOIN users u ON c.user_id = u.id
	WHERE u.phone = $1
	  AND c.completed = false
	  AND c.expires_at > NOW()
	  AND c.kind = $2
	ORDER BY c.updated_at DESC
	LIMIT 1`

func (p *Postgres) activeConversation(ctx context.Context, phone string, kind ConversationKind) (*Conversation, error) {
	var c Conversation
	err := p.db.GetContext(ctx, &c, activeConversationSQL, phone, kind)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("active %s conversation: %w", kind, err)
	}
	return &c, nil
}

// ActiveFlow returns the user's newest non-expired flow session, or nil.
func (p *Postgres) ActiveFlow(ctx context.Context, phone string) (*Conversation, error) {
	return p.activeConversation(ctx, phone, KindFlow)
}

// ActiveMenu returns the user's newest non-expired menu session, or nil.
func (p *Postgres) ActiveMenu(ctx context.Context, phone string) (*Conversation, error) {
	return p.activeConversation(ctx, phone, KindMenu)
}

// StartConversation opens a fresh session of the given kind with the default
// answers object and a TTL expressed in minutes.
func (p *Postgres) StartConversation(ctx context.Context, phone string, kind ConversationKind, name string, ttlMinutes int) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO conversations (user_id, kind, name, current_step_key, answers, completed, updated_at, expires_at)
		VALUES (
			(SELECT id FROM users WHERE phone = $1),
			$2, $3, NULL, '{}'::jsonb, false, NOW(),
			NOW() + make_interval(mins => $4)
		)`, phone, kind, name, ttlMinutes)
	if err != nil {
		return fmt.Errorf("start %s conversation: %w", kind, err)
	}
	return nil
}

// ExpirePriorConversations marks the user's same-kind sessions whose deadline
// has passed as completed. The sweep is kind-scoped on purpose; flows and
// menus expire independently.
func (p *Postgres) ExpirePriorConversations(ctx context.Context, phone string, kind ConversationKind) error {
	_, err := p.db.ExecContext(ctx, `
		UPDATE conversations
		SET completed = true
		WHERE user_id = (SELECT id FROM users WHERE phone = $1)
		  AND completed = false
		  AND expires_at <= NOW()
		  AND kind = $2`, phone, kind)
	if err != nil {
		return fmt.Errorf("expire prior %s conversations: %w", kind, err)
	}
	return nil
}

// CompleteConversation marks one session as finished by id.
func (p *Postgres) CompleteConversation(ctx context.Context, id int64) error {
	_, err := p.db.ExecContext(ctx, `
		UPDATE conversations
		SET completed = true, updated_at = NOW()
		WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("complete conversation: %w", err)
	}
	return nil
}

// CompleteActiveMenus closes every open menu session for the user,
// regardless of expiry. Used right before a selection effect runs.
func (p *Postgres) CompleteActiveMenus(ctx context.Context, phone string) error {
	_, err := p.db.ExecContext(ctx, `
		UPDATE conversations
		SET completed = true, updated_at = NOW()
		WHERE user_id = (SELECT id FROM users WHERE phone = $1)
		  AND completed = false
		  AND kind = 'menu'`, phone)
	if err != nil {
		return fmt.Errorf("complete active menus: %w", err)
	}
	return nil
}

// UpdateConversationStep records flow progress: the current step key and the
// accumulated answers object.
func (p *Postgres) UpdateConversationStep(ctx context.Context, id int64, stepKey string, answers Answers) error {
	_, err := p.db.ExecContext(ctx, `
		UPDATE conversations
		SET current_step_key = $2, answers = $3, updated_at = NOW()
		WHERE id = $1`, id, stepKey, answers)
	if err != nil {
		return fmt.Errorf("update conversation step: %w", err)
	}
	return nil
}

// OrderedFlowSteps returns the full step catalog of a flow ordered by
// display_order, inactive steps included. The flow engine does the skipping.
func (p *Postgres) OrderedFlowSteps(ctx context.Context, flowName string) ([]FlowStep, error) {
	var steps []FlowStep
	err := p.db.SelectContext(ctx, &steps, `
		SELECT flow_name, step_key, display_order, active, expects_input, effect, is_final, question_text
		FROM flow_steps
		WHERE flow_name = $1
		ORDER BY display_order ASC`, flowName)
	if err != nil {
		return nil, fmt.Errorf("ordered flow steps: %w", err)
	}
	return steps, nil
}

// LastUserStep returns the step definition the user's newest open
// conversation points at, or nil when no progress was recorded yet.
func (p *Postgres) LastUserStep(ctx context.Context, userID int64) (*FlowStep, error) {
	var step FlowStep
	err := p.db.GetContext(ctx, &step, `
		SELECT fs.flow_name, fs.step_key, fs.display_order, fs.active,
		       fs.expects_input, fs.effect, fs.is_final, fs.question_text
		FROM conversations c
		JOIN flow_steps fs
		  ON fs.flow_name = c.name AND fs.step_key = c.current_step_key
		WHERE c.user_id = $1
		  AND c.completed = false
		ORDER BY c.updated_at DESC
		LIMIT 1`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("last user step: %w", err)
	}
	return &step, nil
}

// ActiveAnswers returns the answers of the user's newest active conversation.
// Effects read captured input (name, email) through this.
func (p *Postgres) ActiveAnswers(ctx context.Context, phone string) (Answers, error) {
	var answers Answers
	err := p.db.GetContext(ctx, &answers, `
		SELECT c.answers
		FROM conversations c
		JOIN users u ON c.user_id = u.id
		WHERE u.phone = $1
		  AND c.completed = false
		  AND c.expires_at > NOW()
		ORDER BY c.updated_at DESC
		LIMIT 1`, phone)
	if errors.Is(err, sql.ErrNoRows) {
		return Answers{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("active answers: %w", err)
	}
	return answers, nil
}

// LastConversation returns the user's most recent session of any kind or
// state. Greetings use its updated_at to pick a template.
func (p *Postgres) LastConversation(ctx context.Context, phone string) (*Conversation, error) {
	var c Conversation
	err := p.db.GetContext(ctx, &c, `
		SELECT c.id, c.user_id, c.kind, c.name, c.current_step_key, c.answers,
		       c.completed, c.created_at, c.updated_at, c.expires_at
		FROM conversations c
		JOIN users u ON c.user_id = u.id
		WHERE u.phone = $1
		ORDER BY c.updated_at DESC
		LIMIT 1`, phone)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("last conversation: %w", err)
	}
	return &c, nil
}

// MenuByName returns an active menu definition, or nil when absent.
func (p *Postgres) MenuByName(ctx context.Context, menuName string) (*Menu, error) {
	var m Menu
	err := p.db.GetContext(ctx, &m, `
		SELECT menu_name, title, active
		FROM menus
		WHERE menu_name = $1 AND active = true
		LIMIT 1`, menuName)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("menu by name: %w", err)
	}
	return &m, nil
}

// OrderedMenuOptions returns a menu's active options ordered by position.
func (p *Postgres) OrderedMenuOptions(ctx context.Context, menuName string) ([]MenuOption, error) {
	var options []MenuOption
	err := p.db.SelectContext(ctx, &options, `
		SELECT menu_name, option_id, display_text, effect_kind, effect_target, position, active
		FROM menu_options
		WHERE menu_name = $1 AND active = true
		ORDER BY position ASC`, menuName)
	if err != nil {
		return nil, fmt.Errorf("ordered menu options: %w", err)
	}
	return options, nil
}

// MenuOptionByID resolves a selected option id, or nil when unknown/inactive.
func (p *Postgres) MenuOptionByID(ctx context.Context, optionID string) (*MenuOption, error) {
	var opt MenuOption
	err := p.db.GetContext(ctx, &opt, `
		SELECT menu_name, option_id, display_text, effect_kind, effect_target, position, active
		FROM menu_options
		WHERE option_id = $1 AND active = true
		LIMIT 1`, optionID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("menu option by id: %w", err)
	}
	return &opt, nil
}

// FlowNameForKeyword maps a normalized keyword to a flow name, or "".
func (p *Postgres) FlowNameForKeyword(ctx context.Context, keyword string) (string, error) {
	var name string
	err := p.db.GetContext(ctx, &name, `
		SELECT flow_name
		FROM flow_keywords
		WHERE LOWER(keyword) = $1 AND active = true
		LIMIT 1`, strings.ToLower(keyword))
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("flow name for keyword: %w", err)
	}
	return name, nil
}

// MenuNameForKeyword maps a normalized keyword to a menu name, or "".
func (p *Postgres) MenuNameForKeyword(ctx context.Context, keyword string) (string, error) {
	var name string
	err := p.db.GetContext(ctx, &name, `
		SELECT menu_name
		FROM menu_keywords
		WHERE LOWER(keyword) = $1 AND active = true
		LIMIT 1`, strings.ToLower(keyword))
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("menu name for keyword: %w", err)
	}
	return name, nil
}
