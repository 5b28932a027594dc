package engine

import (
	"context"
	"log/slog"

	"github.com/petclub/wabot/core/config"
	"github.com/petclub/wabot/core/logger"
	"github.com/petclub/wabot/core/store"
)

// Call carries the uniform dispatch arguments for a named effect. Handlers
// declare which of the three fields they consume by choosing an adapter
// type; the dispatcher always passes the full call.
type Call struct {
	Phone     string
	Input     string
	ChannelID string
}

// Handler executes a named side effect at a step or option boundary.
// Handlers do not return values the caller consumes, only failure.
type Handler interface {
	Execute(ctx context.Context, call Call) error
}

// PhoneFunc adapts an effect that needs only the user's phone.
type PhoneFunc func(ctx context.Context, phone string) error

// Execute implements Handler.
func (f PhoneFunc) Execute(ctx context.Context, call Call) error {
	return f(ctx, call.Phone)
}

// InputFunc adapts an effect that consumes the user's input.
type InputFunc func(ctx context.Context, phone, input string) error

// Execute implements Handler.
func (f InputFunc) Execute(ctx context.Context, call Call) error {
	return f(ctx, call.Phone, call.Input)
}

// ChannelFunc adapts an effect that also sends outbound messages and
// therefore needs the business channel id.
type ChannelFunc func(ctx context.Context, phone, input, channelID string) error

// Execute implements Handler.
func (f ChannelFunc) Execute(ctx context.Context, call Call) error {
	return f(ctx, call.Phone, call.Input, call.ChannelID)
}

// Func backs a menu option of kind FUNCTION.
type Func func(ctx context.Context, phone, channelID string) error

// Dispatcher maps effect names to handlers and FUNCTION targets to menu
// functions. Registration happens during wiring; dispatch is read-only.
type Dispatcher struct {
	handlers  map[string]Handler
	functions map[string]Func
}

// NewDispatcher returns an empty dispatch table.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		handlers:  make(map[string]Handler),
		functions: make(map[string]Func),
	}
}

// Register binds an effect name to a handler.
func (d *Dispatcher) Register(name string, h Handler) {
	if name == "" || h == nil {
		return
	}
	d.handlers[name] = h
}

// RegisterFunction binds a FUNCTION target name to a menu function.
func (d *Dispatcher) RegisterFunction(name string, fn Func) {
	if name == "" || fn == nil {
		return
	}
	d.functions[name] = fn
}

// Execute runs the named effect. An unknown name is a silent no-op.
func (d *Dispatcher) Execute(ctx context.Context, name string, call Call) error {
	h, ok := d.handlers[name]
	if !ok {
		logger.Debug(ctx, "engine.effects", "effect.skip",
			slog.String("effect", name),
			slog.String("reason", "unregistered"),
		)
		return nil
	}
	return h.Execute(ctx, call)
}

// Function looks up a menu FUNCTION target.
func (d *Dispatcher) Function(name string) (Func, bool) {
	fn, ok := d.functions[name]
	return fn, ok
}

// Built-in effect names referenced by the seeded flow catalog.
const (
	EffectRegisterUser  = "REGISTER_USER"
	EffectSaveName      = "SAVE_NAME"
	EffectSaveMail      = "SAVE_MAIL"
	EffectConfigureClub = "CONFIGURE_CLUB"
	EffectMenuNotJoined = "MENU_NOT_JOINED"
)

func (e *Engine) registerBuiltins() {
	e.effects.Register(EffectRegisterUser, PhoneFunc(func(ctx context.Context, phone string) error {
		return e.store.CreateUserIfAbsent(ctx, phone)
	}))

	e.effects.Register(EffectSaveName, PhoneFunc(func(ctx context.Context, phone string) error {
		answers, err := e.store.ActiveAnswers(ctx, phone)
		if err != nil {
			return err
		}
		name := answers["name"]
		return e.store.UpdateUserFields(ctx, phone, store.UserUpdate{Name: &name})
	}))

	e.effects.Register(EffectSaveMail, PhoneFunc(func(ctx context.Context, phone string) error {
		answers, err := e.store.ActiveAnswers(ctx, phone)
		if err != nil {
			return err
		}
		mail := answers["mail"]
		return e.store.UpdateUserFields(ctx, phone, store.UserUpdate{Email: &mail})
	}))

	e.effects.Register(EffectConfigureClub, ChannelFunc(func(ctx context.Context, phone, _, channelID string) error {
		joined := true
		if err := e.store.UpdateUserFields(ctx, phone, store.UserUpdate{JoinedClub: &joined}); err != nil {
			return err
		}
		user, err := e.store.FindUserByPhone(ctx, phone)
		if err != nil {
			return err
		}
		name := ""
		if user != nil && user.Name.Valid {
			name = config.CapitalizeFirst(user.Name.String)
		}
		msgs := e.cfg.Messages.Enrollment
		e.sendText(ctx, channelID, phone, config.Render(msgs.Confirmation, map[string]string{"name": name}))
		e.sendText(ctx, channelID, phone, msgs.MenuHint)
		return nil
	}))

	e.effects.Register(EffectMenuNotJoined, ChannelFunc(func(ctx context.Context, phone, _, channelID string) error {
		return e.PresentMenu(ctx, phone, channelID, e.cfg.NotJoinedMenu)
	}))

	e.effects.RegisterFunction("enroll_club", func(ctx context.Context, phone, channelID string) error {
		return e.handleClubEnrollment(ctx, phone, channelID)
	})
}
