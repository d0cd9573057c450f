package notify

import (
	"context"
	"fmt"
)

// discordColor is the embed sidebar color.
const discordColor = 0x2e7d32

// DiscordSender posts alerts as embeds to a Discord webhook.
type DiscordSender struct {
	webhookURL string
}

// NewDiscordSender creates a DiscordSender for webhookURL.
func NewDiscordSender(webhookURL string) *DiscordSender {
	return &DiscordSender{webhookURL: webhookURL}
}

type discordEmbedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

type discordEmbed struct {
	Title  string              `json:"title"`
	Color  int                 `json:"color"`
	Fields []discordEmbedField `json:"fields,omitempty"`
}

type discordPayload struct {
	Embeds []discordEmbed `json:"embeds"`
}

func (d *DiscordSender) Send(ctx context.Context, msg Message) error {
	embed := discordEmbed{Title: msg.Title, Color: discordColor}
	for _, f := range msg.Fields {
		embed.Fields = append(embed.Fields, discordEmbedField{Name: f.Name, Value: f.Value, Inline: true})
	}
	if err := postJSON(ctx, defaultHTTPClient, d.webhookURL, discordPayload{Embeds: []discordEmbed{embed}}); err != nil {
		return fmt.Errorf("discord: %w", err)
	}
	return nil
}

func (d *DiscordSender) Name() string { return "discord" }
