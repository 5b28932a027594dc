package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/petclub/wabot/core/logger"
	"github.com/petclub/wabot/core/store"
)

// startFlow opens a fresh flow session for the user, expiring any stale
// flow-kind sessions first. Menu-kind sessions are left alone.
func (e *Engine) startFlow(ctx context.Context, phone, flowName string) error {
	if err := e.store.CreateUserIfAbsent(ctx, phone); err != nil {
		return err
	}
	if err := e.store.ExpirePriorConversations(ctx, phone, store.KindFlow); err != nil {
		return err
	}
	return e.store.StartConversation(ctx, phone, store.KindFlow, flowName, e.cfg.FlowTTLMinutes)
}

// resolveFlowStep advances the user's active flow by consuming one input.
// Automatic steps chain within the same call; the iteration count is capped
// by the flow's own step count so a broken catalog cannot loop forever.
func (e *Engine) resolveFlowStep(ctx context.Context, phone, input, channelID string) error {
	flow, err := e.store.ActiveFlow(ctx, phone)
	if err != nil {
		return err
	}
	if flow == nil {
		return nil
	}

	steps, err := e.store.OrderedFlowSteps(ctx, flow.Name)
	if err != nil {
		return err
	}
	if len(steps) == 0 {
		logger.Flow.Warn("flow has no steps",
			slog.String("event", "flow.step"),
			slog.String("flow", flow.Name),
		)
		return nil
	}

	floor := 0
	current, err := e.store.LastUserStep(ctx, flow.UserID)
	if err != nil {
		return err
	}
	if current != nil {
		floor = current.DisplayOrder
	}

	for hops := 0; hops < len(steps); hops++ {
		next := nextActiveStep(steps, floor)
		if next == nil {
			// No further active step: either the flow ran out without a
			// final step or the catalog is inconsistent. Stay silent.
			logger.Flow.Debug("no next step",
				slog.String("event", "flow.step"),
				slog.String("flow", flow.Name),
				slog.Int("floor", floor),
			)
			return nil
		}

		trimmed := strings.TrimSpace(input)
		if next.ExpectsInput && trimmed == "" {
			// Waiting for the user: ask the question and record nothing,
			// so a redelivery simply asks again.
			e.sendText(ctx, channelID, phone, next.QuestionText)
			return nil
		}

		if next.Effect.Valid {
			call := Call{Phone: phone, Input: input, ChannelID: channelID}
			if err := e.effects.Execute(ctx, next.Effect.String, call); err != nil {
				return fmt.Errorf("effect %s at step %s: %w", next.Effect.String, next.StepKey, err)
			}
		}

		answers := flow.Answers.Clone()
		if next.ExpectsInput && trimmed != "" {
			answers[next.StepKey] = trimmed
		}
		if err := e.store.UpdateConversationStep(ctx, flow.ID, next.StepKey, answers); err != nil {
			return err
		}
		flow.Answers = answers

		logger.Flow.Debug("step advanced",
			slog.String("event", "flow.step"),
			slog.String("flow", flow.Name),
			slog.String("step", next.StepKey),
			slog.Bool("final", next.IsFinal),
		)

		if next.IsFinal {
			return e.store.CompleteConversation(ctx, flow.ID)
		}

		// The remaining chain runs without user input.
		input = ""
		floor = next.DisplayOrder
	}

	// The cap was reached. When the catalog simply ran out of active steps
	// without a final one, that is the same silent no-op as above; the
	// misconfiguration error is reserved for a genuine cap breach.
	if nextActiveStep(steps, floor) == nil {
		logger.Flow.Debug("no next step",
			slog.String("event", "flow.step"),
			slog.String("flow", flow.Name),
			slog.Int("floor", floor),
		)
		return nil
	}
	return fmt.Errorf("flow %s exceeded %d step advances: %w", flow.Name, len(steps), ErrFlowMisconfigured)
}

// nextActiveStep selects the active step with the smallest display order
// above the floor. Inactive steps are skipped without consuming input.
func nextActiveStep(steps []store.FlowStep, floor int) *store.FlowStep {
	for i := range steps {
		step := &steps[i]
		if step.DisplayOrder > floor && step.Active {
			return step
		}
	}
	return nil
}
