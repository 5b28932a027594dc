package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/petclub/wabot/core/logger"
	"github.com/petclub/wabot/core/store"
	"github.com/petclub/wabot/core/whatsapp"
)

// startMenu opens a fresh menu session for the user, expiring any stale
// menu-kind sessions first.
func (e *Engine) startMenu(ctx context.Context, phone, menuName string) error {
	if err := e.store.CreateUserIfAbsent(ctx, phone); err != nil {
		return err
	}
	if err := e.store.ExpirePriorConversations(ctx, phone, store.KindMenu); err != nil {
		return err
	}
	return e.store.StartConversation(ctx, phone, store.KindMenu, menuName, e.cfg.MenuTTLMinutes)
}

// PresentMenu builds the interactive payload for a menu and sends it,
// (re)starting the user's menu session. A missing or empty menu definition
// is reported as ErrNotFound; payload limit violations surface as a
// whatsapp.ValidationError.
func (e *Engine) PresentMenu(ctx context.Context, phone, channelID, menuName string) error {
	menu, err := e.store.MenuByName(ctx, menuName)
	if err != nil {
		return err
	}
	if menu == nil {
		return fmt.Errorf("menu %q: %w", menuName, ErrNotFound)
	}

	rows, err := e.store.OrderedMenuOptions(ctx, menuName)
	if err != nil {
		return err
	}

	options := make([]whatsapp.Option, 0, len(rows))
	for _, row := range rows {
		options = append(options, whatsapp.Option{
			ID:    row.OptionID,
			Title: row.DisplayText,
		})
	}

	payload, err := whatsapp.BuildInteractive(strings.TrimSpace(menu.Title), "", options, whatsapp.StrategyAuto)
	if err != nil {
		return fmt.Errorf("menu %q: %w", menuName, err)
	}

	if err := e.startMenu(ctx, phone, menuName); err != nil {
		return err
	}

	logger.Menu.Info("menu presented",
		slog.String("event", "menu.present"),
		slog.String("menu", menuName),
		slog.Int("options", len(options)),
	)
	e.sendInteractive(ctx, channelID, phone, payload)
	return nil
}

// HandleSelection resolves a selected option id. Errors are contained here:
// they are logged and answered with a generic failure message, never
// propagated to the router.
func (e *Engine) HandleSelection(ctx context.Context, phone, optionID, channelID string) {
	if err := e.resolveSelection(ctx, phone, optionID, channelID); err != nil {
		logger.Error(ctx, "engine.menu", "selection.fail",
			slog.String("option_id", optionID),
			slog.String("err", err.Error()),
		)
		e.sendText(ctx, channelID, phone, e.cfg.Messages.Errors.Generic)
	}
}

func (e *Engine) resolveSelection(ctx context.Context, phone, optionID, channelID string) error {
	option, err := e.store.MenuOptionByID(ctx, optionID)
	if err != nil {
		return err
	}
	if option == nil {
		logger.Menu.Warn("unknown option selected",
			slog.String("event", "menu.select"),
			slog.String("option_id", optionID),
		)
		return nil
	}

	// Close the menu before running its effect so a nested menu or flow
	// starts from a clean session.
	if err := e.store.CompleteActiveMenus(ctx, phone); err != nil {
		return err
	}

	logger.Menu.Info("option selected",
		slog.String("event", "menu.select"),
		slog.String("option_id", option.OptionID),
		slog.String("effect_kind", option.EffectKind),
		slog.String("effect_target", option.EffectTarget),
	)

	switch option.EffectKind {
	case store.EffectOpenMenu:
		return e.PresentMenu(ctx, phone, channelID, option.EffectTarget)

	case store.EffectStartFlow:
		if err := e.startFlow(ctx, phone, option.EffectTarget); err != nil {
			return err
		}
		// Run leading automatic steps and send the first question.
		return e.resolveFlowStep(ctx, phone, "", channelID)

	case store.EffectFunction:
		fn, ok := e.effects.Function(option.EffectTarget)
		if !ok {
			e.sendText(ctx, channelID, phone, e.cfg.Messages.Fallback.FunctionUnavailable)
			return nil
		}
		return fn(ctx, phone, channelID)

	default:
		e.sendText(ctx, channelID, phone, e.cfg.Messages.Fallback.UnknownAction)
		return nil
	}
}
