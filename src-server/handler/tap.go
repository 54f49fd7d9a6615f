package handler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"tapboard/src-server/presence"
	"tapboard/src-server/utils"
	"time"

	"github.com/bwmarrin/discordgo"
)

func Tap(as *utils.AppState, core *presence.Core) {
	id := "tap"
	as.AddAppCmdHandler(id, tapHandler(as, core))
	as.AddAppCmdInfo(id, &discordgo.ApplicationCommand{
		Name:        id,
		Description: "Check in or out of a location",
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionString,
				Name:        "location",
				Description: "Location name",
				Required:    true,
			},
		},
	})
}

func tapHandler(as *utils.AppState, core *presence.Core) func(s *discordgo.Session, i *discordgo.InteractionCreate) error {
	return func(s *discordgo.Session, i *discordgo.InteractionCreate) error {
		interaction := i.Interaction

		// #region - respond to the original request
		startTimer := time.Now()
		if err := s.InteractionRespond(interaction, &discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
			Data: &discordgo.InteractionResponseData{
				Flags: discordgo.MessageFlagsEphemeral,
			},
		}); err != nil {
			slog.Warn("tapHandler: can't send defer message", "error", err)
			return nil
		}
		utils.Observe(as.MetricChans.DiscordSendMessage, float64(time.Since(startTimer).Microseconds()))
		// #endregion

		respond := func(msg string) {
			if _, err := s.InteractionResponseEdit(interaction, &discordgo.WebhookEdit{
				Content: &msg,
			}); err != nil {
				slog.Warn("tapHandler: can't edit response", "error", err)
			}
		}

		memberModel, err := upsertMemberFromInteraction(as, i)
		if err != nil {
			respond("Can't get user from interaction.")
			return fmt.Errorf("tapHandler: %w", err)
		}

		locRef := func() string {
			for _, opt := range i.ApplicationCommandData().Options {
				if opt.Name == "location" {
					return opt.StringValue()
				}
			}
			return ""
		}()

		startTimer = time.Now()
		result, err := core.Engine.Tap(context.Background(), memberModel.ID, locRef)
		switch {
		case errors.Is(err, presence.ErrLocationNotFound):
			respond(fmt.Sprintf("No active location matches `%s`.", locRef))
			return nil
		case err != nil:
			respond("Tap failed, try again later.")
			return fmt.Errorf("tapHandler: %w", err)
		}
		utils.Observe(as.MetricChans.DatabaseWrite, float64(time.Since(startTimer).Microseconds()))
		utils.Observe(as.MetricChans.TapEvents, 1)

		switch {
		case result.Debounced && result.IsIn:
			respond(fmt.Sprintf("Still checked in at **%s**, tap ignored.", result.Location.Name))
		case result.Debounced:
			respond("Tap ignored, you just checked out.")
		case result.IsIn:
			respond(fmt.Sprintf("Checked in at **%s**.", result.Location.Name))
		default:
			respond(fmt.Sprintf("Checked out of **%s**.", result.Location.Name))
		}
		return nil
	}
}
