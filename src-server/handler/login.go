package handler

import (
	"context"
	"fmt"
	"log/slog"
	"tapboard/src-server/model"
	"tapboard/src-server/utils"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/google/uuid"
)

func Login(as *utils.AppState) {
	id := "login"
	as.AddAppCmdHandler(id, loginHandler(as))
	as.AddAppCmdInfo(id, &discordgo.ApplicationCommand{
		Name:        id,
		Description: "Get a one-time key to log in to the presence web client",
	})
}

func loginHandler(as *utils.AppState) func(s *discordgo.Session, i *discordgo.InteractionCreate) error {
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
			slog.Warn("loginHandler: can't send defer message", "error", err)
			return nil
		}
		utils.Observe(as.MetricChans.DiscordSendMessage, float64(time.Since(startTimer).Microseconds()))
		// #endregion

		// #region - upsert the member from the interaction
		memberModel, err := upsertMemberFromInteraction(as, i)
		if err != nil {
			msg := "Can't get user from interaction."
			if _, err := s.InteractionResponseEdit(interaction, &discordgo.WebhookEdit{
				Content: &msg,
			}); err != nil {
				slog.Warn("loginHandler: can't send message about member upsert", "error", err)
			}
			return fmt.Errorf("loginHandler: %w", err)
		}
		// #endregion

		// #region - insert the one-time key to DB
		secret := uuid.NewString()
		startTimer = time.Now()
		if _, err := as.BunDB.
			NewInsert().
			Model(&model.AuthToken{
				Secret:    secret,
				Purpose:   model.AUTH_TOKEN_PURPOSE_TEMP,
				MemberID:  memberModel.ID,
				CreatedAt: time.Now(),
			}).
			Exec(context.Background()); err != nil {
			msg := fmt.Sprintf("Can't create login key\n```\n%s\n```", err.Error())
			if _, err := s.InteractionResponseEdit(interaction, &discordgo.WebhookEdit{
				Content: &msg,
			}); err != nil {
				slog.Warn("loginHandler: can't send message about can't insert token", "error", err)
			}
			return fmt.Errorf("loginHandler: can't insert auth token: %w", err)
		}
		utils.Observe(as.MetricChans.DatabaseWrite, float64(time.Since(startTimer).Microseconds()))
		// #endregion

		msg := fmt.Sprintf("```%s```", secret)
		if _, err := s.InteractionResponseEdit(interaction, &discordgo.WebhookEdit{
			Content: &msg,
		}); err != nil {
			slog.Warn("loginHandler: can't respond about login successful", "error", err)
		}

		return nil
	}
}
