package engine

import (
	"context"
	"database/sql"
	"sort"
	"time"

	"github.com/petclub/wabot/core/store"
	"github.com/petclub/wabot/core/whatsapp"
)

// fakeStore is an in-memory Store for engine tests. It mirrors the SQL
// adapter's contract: lookups return nil when nothing matched, activity
// means completed=false and an unexpired deadline.
type fakeStore struct {
	users    map[string]*store.User
	nextUser int64
	convs    []*store.Conversation
	nextConv int64
	steps    map[string][]store.FlowStep
	menus    map[string]*store.Menu
	options  map[string][]store.MenuOption
	flowKw   map[string]string
	menuKw   map[string]string

	failWith error
	panicMsg string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:   make(map[string]*store.User),
		steps:   make(map[string][]store.FlowStep),
		menus:   make(map[string]*store.Menu),
		options: make(map[string][]store.MenuOption),
		flowKw:  make(map[string]string),
		menuKw:  make(map[string]string),
	}
}

func (s *fakeStore) check() error {
	if s.panicMsg != "" {
		panic(s.panicMsg)
	}
	return s.failWith
}

func (s *fakeStore) addUser(phone, name string, joined bool) *store.User {
	s.nextUser++
	u := &store.User{ID: s.nextUser, Phone: phone, JoinedClub: joined}
	if name != "" {
		u.Name = sql.NullString{String: name, Valid: true}
	}
	s.users[phone] = u
	return u
}

func (s *fakeStore) addMenu(name, title string, options ...store.MenuOption) {
	s.menus[name] = &store.Menu{MenuName: name, Title: title, Active: true}
	s.options[name] = options
}

func (s *fakeStore) addFlow(name string, steps ...store.FlowStep) {
	for i := range steps {
		steps[i].FlowName = name
	}
	s.steps[name] = steps
}

func (s *fakeStore) FindUserByPhone(_ context.Context, phone string) (*store.User, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	return s.users[phone], nil
}

func (s *fakeStore) CreateUserIfAbsent(_ context.Context, phone string) error {
	if err := s.check(); err != nil {
		return err
	}
	if _, ok := s.users[phone]; !ok {
		s.addUser(phone, "", false)
	}
	return nil
}

func (s *fakeStore) UpdateUserFields(_ context.Context, phone string, update store.UserUpdate) error {
	if err := s.check(); err != nil {
		return err
	}
	u, ok := s.users[phone]
	if !ok || update.IsEmpty() {
		return nil
	}
	if update.Name != nil {
		u.Name = sql.NullString{String: *update.Name, Valid: true}
	}
	if update.Email != nil {
		u.Email = sql.NullString{String: *update.Email, Valid: true}
	}
	if update.JoinedClub != nil {
		u.JoinedClub = *update.JoinedClub
	}
	u.UpdatedAt = time.Now()
	return nil
}

func (s *fakeStore) activeConversation(phone string, kind store.ConversationKind) *store.Conversation {
	u, ok := s.users[phone]
	if !ok {
		return nil
	}
	now := time.Now()
	for i := len(s.convs) - 1; i >= 0; i-- {
		c := s.convs[i]
		if c.UserID == u.ID && c.Kind == kind && !c.Completed && c.ExpiresAt.After(now) {
			return c
		}
	}
	return nil
}

func (s *fakeStore) ActiveFlow(_ context.Context, phone string) (*store.Conversation, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	return s.activeConversation(phone, store.KindFlow), nil
}

func (s *fakeStore) ActiveMenu(_ context.Context, phone string) (*store.Conversation, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	return s.activeConversation(phone, store.KindMenu), nil
}

func (s *fakeStore) StartConversation(_ context.Context, phone string, kind store.ConversationKind, name string, ttlMinutes int) error {
	if err := s.check(); err != nil {
		return err
	}
	u, ok := s.users[phone]
	if !ok {
		return sql.ErrNoRows
	}
	s.nextConv++
	now := time.Now()
	s.convs = append(s.convs, &store.Conversation{
		ID:        s.nextConv,
		UserID:    u.ID,
		Kind:      kind,
		Name:      name,
		Answers:   store.Answers{},
		CreatedAt: now,
		UpdatedAt: now,
		ExpiresAt: now.Add(time.Duration(ttlMinutes) * time.Minute),
	})
	return nil
}

func (s *fakeStore) ExpirePriorConversations(_ context.Context, phone string, kind store.ConversationKind) error {
	if err := s.check(); err != nil {
		return err
	}
	u, ok := s.users[phone]
	if !ok {
		return nil
	}
	past := time.Now().Add(-time.Minute)
	for _, c := range s.convs {
		if c.UserID == u.ID && c.Kind == kind && !c.Completed {
			c.ExpiresAt = past
		}
	}
	return nil
}

func (s *fakeStore) CompleteConversation(_ context.Context, id int64) error {
	if err := s.check(); err != nil {
		return err
	}
	for _, c := range s.convs {
		if c.ID == id {
			c.Completed = true
			c.UpdatedAt = time.Now()
		}
	}
	return nil
}

func (s *fakeStore) CompleteActiveMenus(_ context.Context, phone string) error {
	if err := s.check(); err != nil {
		return err
	}
	u, ok := s.users[phone]
	if !ok {
		return nil
	}
	now := time.Now()
	for _, c := range s.convs {
		if c.UserID == u.ID && c.Kind == store.KindMenu && !c.Completed && c.ExpiresAt.After(now) {
			c.Completed = true
			c.UpdatedAt = now
		}
	}
	return nil
}

func (s *fakeStore) UpdateConversationStep(_ context.Context, id int64, stepKey string, answers store.Answers) error {
	if err := s.check(); err != nil {
		return err
	}
	for _, c := range s.convs {
		if c.ID == id {
			c.CurrentStepKey = sql.NullString{String: stepKey, Valid: true}
			c.Answers = answers
			c.UpdatedAt = time.Now()
		}
	}
	return nil
}

func (s *fakeStore) ActiveAnswers(_ context.Context, phone string) (store.Answers, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	c := s.activeConversation(phone, store.KindFlow)
	if c == nil {
		return store.Answers{}, nil
	}
	return c.Answers, nil
}

func (s *fakeStore) LastConversation(_ context.Context, phone string) (*store.Conversation, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	u, ok := s.users[phone]
	if !ok {
		return nil, nil
	}
	var last *store.Conversation
	for _, c := range s.convs {
		if c.UserID != u.ID {
			continue
		}
		if last == nil || c.UpdatedAt.After(last.UpdatedAt) || (c.UpdatedAt.Equal(last.UpdatedAt) && c.ID > last.ID) {
			last = c
		}
	}
	return last, nil
}

func (s *fakeStore) OrderedFlowSteps(_ context.Context, flowName string) ([]store.FlowStep, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	steps := append([]store.FlowStep(nil), s.steps[flowName]...)
	sort.SliceStable(steps, func(i, j int) bool {
		return steps[i].DisplayOrder < steps[j].DisplayOrder
	})
	return steps, nil
}

func (s *fakeStore) LastUserStep(_ context.Context, userID int64) (*store.FlowStep, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	for i := len(s.convs) - 1; i >= 0; i-- {
		c := s.convs[i]
		if c.UserID != userID || c.Kind != store.KindFlow || !c.CurrentStepKey.Valid {
			continue
		}
		for j := range s.steps[c.Name] {
			if s.steps[c.Name][j].StepKey == c.CurrentStepKey.String {
				step := s.steps[c.Name][j]
				return &step, nil
			}
		}
		return nil, nil
	}
	return nil, nil
}

func (s *fakeStore) MenuByName(_ context.Context, menuName string) (*store.Menu, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	return s.menus[menuName], nil
}

func (s *fakeStore) OrderedMenuOptions(_ context.Context, menuName string) ([]store.MenuOption, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	opts := append([]store.MenuOption(nil), s.options[menuName]...)
	sort.SliceStable(opts, func(i, j int) bool {
		return opts[i].Position < opts[j].Position
	})
	return opts, nil
}

func (s *fakeStore) MenuOptionByID(_ context.Context, optionID string) (*store.MenuOption, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	for _, opts := range s.options {
		for i := range opts {
			if opts[i].OptionID == optionID {
				opt := opts[i]
				return &opt, nil
			}
		}
	}
	return nil, nil
}

func (s *fakeStore) FlowNameForKeyword(_ context.Context, keyword string) (string, error) {
	if err := s.check(); err != nil {
		return "", err
	}
	return s.flowKw[keyword], nil
}

func (s *fakeStore) MenuNameForKeyword(_ context.Context, keyword string) (string, error) {
	if err := s.check(); err != nil {
		return "", err
	}
	return s.menuKw[keyword], nil
}

type sentText struct {
	ChannelID string
	To        string
	Text      string
}

type fakeSender struct {
	texts           []sentText
	interactives    []*whatsapp.Interactive
	failText        error
	failInteractive error
}

func (s *fakeSender) SendText(_ context.Context, channelID, recipient, text string) error {
	if s.failText != nil {
		return s.failText
	}
	s.texts = append(s.texts, sentText{ChannelID: channelID, To: recipient, Text: text})
	return nil
}

func (s *fakeSender) SendInteractive(_ context.Context, channelID, recipient string, payload *whatsapp.Interactive) error {
	if s.failInteractive != nil {
		return s.failInteractive
	}
	s.interactives = append(s.interactives, payload)
	return nil
}

func (s *fakeSender) lastText() string {
	if len(s.texts) == 0 {
		return ""
	}
	return s.texts[len(s.texts)-1].Text
}

func newTestEngine() (*Engine, *fakeStore, *fakeSender) {
	st := newFakeStore()
	sender := &fakeSender{}
	e := New(st, sender, Settings{})
	return e, st, sender
}
