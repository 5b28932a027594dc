package engine

import (
	"context"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"

	"github.com/petclub/wabot/core/config"
	"github.com/petclub/wabot/core/logger"
	"github.com/petclub/wabot/core/store"
	"github.com/petclub/wabot/core/whatsapp"
)

// HandleMessage is the entry point for one inbound message. It serializes
// handling per phone, routes the message, and guarantees a user-visible
// reply on any failure; it never lets an error or panic escape.
func (e *Engine) HandleMessage(ctx context.Context, in whatsapp.Inbound) {
	release := e.locks.Acquire(in.From)
	defer release()

	ctx = logger.WithRID(ctx, logger.NewRID())
	ctx = logger.WithPhone(ctx, in.From)
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			logger.Error(ctx, "router", "panic",
				slog.Any("err", r),
				slog.String("stack", string(debug.Stack())),
			)
			e.sendText(ctx, in.ChannelID, in.From, e.cfg.Messages.Errors.System)
		}
	}()

	err := e.route(ctx, in)
	if err != nil {
		logger.Error(ctx, "router", "route.fail",
			slog.String("err", err.Error()),
			slog.Duration("duration", logger.Took(start)),
		)
		e.sendText(ctx, in.ChannelID, in.From, e.cfg.Messages.Errors.System)
		return
	}
	logger.Debug(ctx, "router", "route.done",
		slog.Duration("duration", logger.Took(start)),
	)
}

func (e *Engine) route(ctx context.Context, in whatsapp.Inbound) error {
	token, raw := normalizeToken(in)
	if token == "" {
		e.sendText(ctx, in.ChannelID, in.From, e.cfg.Messages.Fallback.Unknown)
		return nil
	}

	logger.Debug(ctx, "router", "message.received",
		slog.String("payload", logger.SanitizeLimit(raw, 256)),
		slog.Bool("interactive", in.IsInteractive()),
	)

	// An active flow wins over everything, including an active menu.
	flow, err := e.store.ActiveFlow(ctx, in.From)
	if err != nil {
		return err
	}
	if flow != nil {
		return e.resolveFlowStep(ctx, in.From, raw, in.ChannelID)
	}

	menu, err := e.store.ActiveMenu(ctx, in.From)
	if err != nil {
		return err
	}
	if menu != nil {
		if !in.IsInteractive() {
			// Free text while a menu is open is not a valid selection.
			e.sendText(ctx, in.ChannelID, in.From, e.cfg.Messages.Fallback.InvalidSelection)
			return nil
		}
		e.HandleSelection(ctx, in.From, selectionID(in), in.ChannelID)
		return nil
	}

	if token == e.cfg.EnrollKeyword {
		return e.handleClubEnrollment(ctx, in.From, in.ChannelID)
	}

	if flowName, err := e.store.FlowNameForKeyword(ctx, token); err != nil {
		return err
	} else if flowName != "" {
		if flowName == e.cfg.EnrollmentFlow {
			return e.handleClubEnrollment(ctx, in.From, in.ChannelID)
		}
		if err := e.startFlow(ctx, in.From, flowName); err != nil {
			return err
		}
		return e.resolveFlowStep(ctx, in.From, "", in.ChannelID)
	}

	if menuName, err := e.store.MenuNameForKeyword(ctx, token); err != nil {
		return err
	} else if menuName != "" {
		return e.PresentMenu(ctx, in.From, in.ChannelID, menuName)
	}

	return e.bootstrapSession(ctx, in.From, in.ChannelID)
}

// bootstrapSession handles a message with no active session and no keyword:
// greet the user and put them on the right track.
func (e *Engine) bootstrapSession(ctx context.Context, phone, channelID string) error {
	if err := e.store.CreateUserIfAbsent(ctx, phone); err != nil {
		return err
	}
	user, err := e.store.FindUserByPhone(ctx, phone)
	if err != nil {
		return err
	}
	if user == nil {
		return ErrNotFound
	}

	if !user.Name.Valid || strings.TrimSpace(user.Name.String) == "" {
		if err := e.sendGreeting(ctx, phone, channelID, user); err != nil {
			return err
		}
		if err := e.startFlow(ctx, phone, e.cfg.EnrollmentFlow); err != nil {
			return err
		}
		return e.resolveFlowStep(ctx, phone, "", channelID)
	}

	if err := e.sendGreeting(ctx, phone, channelID, user); err != nil {
		return err
	}
	if user.JoinedClub {
		return e.PresentMenu(ctx, phone, channelID, e.cfg.MemberMenu)
	}
	return e.PresentMenu(ctx, phone, channelID, e.cfg.NotJoinedMenu)
}

// sendGreeting picks a greeting template from the catalog based on the
// user's name and how recently their last conversation was touched.
func (e *Engine) sendGreeting(ctx context.Context, phone, channelID string, user *store.User) error {
	last, err := e.store.LastConversation(ctx, phone)
	if err != nil {
		return err
	}

	msgs := e.cfg.Messages.Greetings
	if user.Name.Valid && strings.TrimSpace(user.Name.String) != "" {
		tpl := msgs.Welcome
		if last != nil && time.Since(last.UpdatedAt) < e.cfg.GreetingWindow {
			tpl = msgs.Return
		}
		name := config.CapitalizeFirst(user.Name.String)
		e.sendText(ctx, channelID, phone, config.Render(tpl, map[string]string{"name": name}))
		return nil
	}

	tpl := msgs.NoNameOther
	if last != nil && last.Name == e.cfg.EnrollmentFlow {
		tpl = msgs.NoName
	}
	e.sendText(ctx, channelID, phone, tpl)
	return nil
}

// handleClubEnrollment is the reserved-keyword bootstrap: create the user
// if needed and branch on name and membership.
func (e *Engine) handleClubEnrollment(ctx context.Context, phone, channelID string) error {
	user, err := e.store.FindUserByPhone(ctx, phone)
	if err != nil {
		return err
	}
	if user == nil {
		if err := e.store.CreateUserIfAbsent(ctx, phone); err != nil {
			return err
		}
		if user, err = e.store.FindUserByPhone(ctx, phone); err != nil {
			return err
		}
		if user == nil {
			return ErrNotFound
		}
	} else {
		// Sweep stale flow sessions so the enrollment flow starts clean.
		if err := e.store.ExpirePriorConversations(ctx, phone, store.KindFlow); err != nil {
			return err
		}
	}

	msgs := e.cfg.Messages
	if !user.Name.Valid || strings.TrimSpace(user.Name.String) == "" {
		e.sendText(ctx, channelID, phone, msgs.Greetings.NoName)
		if err := e.startFlow(ctx, phone, e.cfg.EnrollmentFlow); err != nil {
			return err
		}
		return e.resolveFlowStep(ctx, phone, "", channelID)
	}

	name := config.CapitalizeFirst(user.Name.String)
	if user.JoinedClub {
		e.sendText(ctx, channelID, phone, config.Render(msgs.Enrollment.AlreadyMember, map[string]string{"name": name}))
		return nil
	}

	joined := true
	if err := e.store.UpdateUserFields(ctx, phone, store.UserUpdate{JoinedClub: &joined}); err != nil {
		return err
	}
	e.sendText(ctx, channelID, phone, config.Render(msgs.Enrollment.Confirmation, map[string]string{"name": name}))
	e.sendText(ctx, channelID, phone, msgs.Enrollment.MenuHint)
	return nil
}

// sendText delivers a text message best-effort: failures are logged and do
// not unwind the caller.
func (e *Engine) sendText(ctx context.Context, channelID, phone, text string) {
	if err := e.sender.SendText(ctx, channelID, phone, text); err != nil {
		logger.Warn(ctx, "router", "send.text.fail",
			slog.String("err", err.Error()),
		)
	}
}

// sendInteractive delivers an interactive payload with the same best-effort
// contract as sendText.
func (e *Engine) sendInteractive(ctx context.Context, channelID, phone string, payload *whatsapp.Interactive) {
	if err := e.sender.SendInteractive(ctx, channelID, phone, payload); err != nil {
		logger.Warn(ctx, "router", "send.interactive.fail",
			slog.String("err", err.Error()),
		)
	}
}

// normalizeToken derives the routing token from the message. The token is
// the lowercase trimmed form; raw keeps the original casing for flow input.
// Source priority: text body, then button reply id, then list reply id.
func normalizeToken(in whatsapp.Inbound) (token, raw string) {
	src := in.Text
	if src == "" {
		src = in.ButtonReplyID
	}
	if src == "" {
		src = in.ListReplyID
	}
	raw = strings.TrimSpace(src)
	return strings.ToLower(raw), raw
}

func selectionID(in whatsapp.Inbound) string {
	if in.ButtonReplyID != "" {
		return in.ButtonReplyID
	}
	return in.ListReplyID
}
