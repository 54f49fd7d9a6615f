package handler

import (
	"context"
	"fmt"
	"tapboard/src-server/model"
	"tapboard/src-server/utils"

	"github.com/bwmarrin/discordgo"
)

// Members are created on first authentication and their display
// fields refreshed on every command; nick > global name > username.
func upsertMemberFromInteraction(as *utils.AppState, i *discordgo.InteractionCreate) (*model.Member, error) {
	if i.Member == nil || i.Member.User == nil {
		return nil, fmt.Errorf("can't get user from interaction")
	}
	user := i.Member.User

	handle := i.Member.Nick
	if handle == "" {
		handle = user.GlobalName
	}
	if handle == "" {
		handle = user.Username
	}
	if handle == "" {
		handle = "discord_" + user.ID
	}

	memberModel := &model.Member{
		ID:        user.ID,
		Handle:    handle,
		AvatarUrl: user.AvatarURL("256"),
	}
	if err := memberModel.Upsert(context.Background(), as.BunDB); err != nil {
		return nil, fmt.Errorf("can't upsert member: %w", err)
	}
	return memberModel, nil
}
