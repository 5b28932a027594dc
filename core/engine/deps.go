package engine

import (
	"context"
	"time"

	"github.com/petclub/wabot/core/config"
	"github.com/petclub/wabot/core/store"
	"github.com/petclub/wabot/core/whatsapp"
)

// Store is the session store adapter the engines depend on. Lookup methods
// return nil (or an empty string) when nothing matched; errors mean the
// store itself failed.
type Store interface {
	FindUserByPhone(ctx context.Context, phone string) (*store.User, error)
	CreateUserIfAbsent(ctx context.Context, phone string) error
	UpdateUserFields(ctx context.Context, phone string, update store.UserUpdate) error

	ActiveFlow(ctx context.Context, phone string) (*store.Conversation, error)
	ActiveMenu(ctx context.Context, phone string) (*store.Conversation, error)
	StartConversation(ctx context.Context, phone string, kind store.ConversationKind, name string, ttlMinutes int) error
	ExpirePriorConversations(ctx context.Context, phone string, kind store.ConversationKind) error
	CompleteConversation(ctx context.Context, id int64) error
	CompleteActiveMenus(ctx context.Context, phone string) error
	UpdateConversationStep(ctx context.Context, id int64, stepKey string, answers store.Answers) error
	ActiveAnswers(ctx context.Context, phone string) (store.Answers, error)
	LastConversation(ctx context.Context, phone string) (*store.Conversation, error)

	OrderedFlowSteps(ctx context.Context, flowName string) ([]store.FlowStep, error)
	LastUserStep(ctx context.Context, userID int64) (*store.FlowStep, error)

	MenuByName(ctx context.Context, menuName string) (*store.Menu, error)
	OrderedMenuOptions(ctx context.Context, menuName string) ([]store.MenuOption, error)
	MenuOptionByID(ctx context.Context, optionID string) (*store.MenuOption, error)

	FlowNameForKeyword(ctx context.Context, keyword string) (string, error)
	MenuNameForKeyword(ctx context.Context, keyword string) (string, error)
}

// Sender is the outbound delivery boundary.
type Sender interface {
	SendText(ctx context.Context, channelID, recipient, text string) error
	SendInteractive(ctx context.Context, channelID, recipient string, payload *whatsapp.Interactive) error
}

// Settings carry the conversation policy and the injected message catalog.
type Settings struct {
	FlowTTLMinutes int
	MenuTTLMinutes int
	// GreetingWindow separates a fresh "welcome back" from a quick return.
	GreetingWindow time.Duration

	// EnrollKeyword triggers the club-enrollment bootstrap path.
	EnrollKeyword string
	// EnrollmentFlow is the name-collection flow started for unnamed users.
	EnrollmentFlow string
	// MemberMenu is presented to users who already joined the club.
	MemberMenu string
	// NotJoinedMenu is presented to known users who have not joined yet.
	NotJoinedMenu string

	Messages config.Messages
}

func (s *Settings) applyDefaults() {
	if s.FlowTTLMinutes <= 0 {
		s.FlowTTLMinutes = 10
	}
	if s.MenuTTLMinutes <= 0 {
		s.MenuTTLMinutes = 10
	}
	if s.GreetingWindow <= 0 {
		s.GreetingWindow = 10 * time.Minute
	}
	if s.EnrollKeyword == "" {
		s.EnrollKeyword = "club"
	}
	if s.EnrollmentFlow == "" {
		s.EnrollmentFlow = "enrollment"
	}
	if s.MemberMenu == "" {
		s.MemberMenu = "menu_members"
	}
	if s.NotJoinedMenu == "" {
		s.NotJoinedMenu = "menu_not_joined"
	}
	s.Messages.ApplyDefaults()
}

// Engine drives one user's conversation session per inbound message.
type Engine struct {
	store   Store
	sender  Sender
	cfg     Settings
	effects *Dispatcher
	locks   *phoneLocks
}

// New wires the conversation engine with its built-in effect handlers.
func New(st Store, sender Sender, cfg Settings) *Engine {
	cfg.applyDefaults()
	e := &Engine{
		store:  st,
		sender: sender,
		cfg:    cfg,
		locks:  newPhoneLocks(),
	}
	e.effects = NewDispatcher()
	e.registerBuiltins()
	return e
}

// Effects exposes the dispatcher so applications can register additional
// handlers and menu functions before serving traffic.
func (e *Engine) Effects() *Dispatcher {
	return e.effects
}

// SendText exposes outbound text delivery for registered menu functions.
func (e *Engine) SendText(ctx context.Context, channelID, phone, text string) error {
	return e.sender.SendText(ctx, channelID, phone, text)
}
