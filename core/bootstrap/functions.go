package bootstrap

import (
	"context"

	"github.com/petclub/wabot/core/engine"
)

// registerMenuFunctions binds the FUNCTION targets referenced by the seeded
// menu catalog. Club enrollment is built into the engine; the informational
// ones live here.
func registerMenuFunctions(eng *engine.Engine) {
	send := func(text string) engine.Func {
		return func(ctx context.Context, phone, channelID string) error {
			return eng.SendText(ctx, channelID, phone, text)
		}
	}

	eng.Effects().RegisterFunction("show_hours",
		send("🕒 We are open Monday to Saturday, 9am to 7pm."))
	eng.Effects().RegisterFunction("show_location",
		send("📍 Av. Insurgentes Sur 1234, Mexico City. See you there!"))
	eng.Effects().RegisterFunction("show_club_info",
		send("🐾 Club members get discounts, reminders and priority grooming slots. Text \"club\" to join."))
}
