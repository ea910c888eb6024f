package discord

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"

	"github.com/bwmarrin/discordgo"
	discordpkg "github.com/foxseedlab/livescribe/internal/discord"
)

const maxMessageRunes = 2000

// Client talks to Discord over REST only. No gateway connection is opened,
// so it needs no intents and starts instantly.
type Client struct {
	session *discordgo.Session
}

func NewClient(token string) (discordpkg.Client, error) {
	s, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, err
	}
	return &Client{session: s}, nil
}

func (c *Client) Close() error {
	c.session.Client.CloseIdleConnections()
	return nil
}

func (c *Client) SendChannelMessage(channelID, content string) error {
	_, err := c.session.ChannelMessageSend(channelID, truncateMessage(content))
	return describeRESTError(err)
}

func (c *Client) SendChannelMessageWithFile(msg discordpkg.FileMessage) error {
	_, err := c.session.ChannelMessageSendComplex(msg.ChannelID, &discordgo.MessageSend{
		Content: truncateMessage(msg.Content),
		Files: []*discordgo.File{
			{Name: msg.Filename, ContentType: "text/plain", Reader: bytes.NewReader(msg.FileBody)},
		},
	})
	return describeRESTError(err)
}

func truncateMessage(content string) string {
	runes := []rune(content)
	if len(runes) <= maxMessageRunes {
		return content
	}
	return string(runes[:maxMessageRunes-1]) + "…"
}

func describeRESTError(err error) error {
	if err == nil {
		return nil
	}
	var restErr *discordgo.RESTError
	if errors.As(err, &restErr) && restErr.Response != nil {
		if restErr.Response.StatusCode == http.StatusForbidden {
			return fmt.Errorf("discord: missing permission to post in channel: %w", err)
		}
		return fmt.Errorf("discord: status %d: %w", restErr.Response.StatusCode, err)
	}
	return fmt.Errorf("discord: %w", err)
}

// NoopClient is used when the Discord mirror is not configured.
type NoopClient struct{}

func (NoopClient) SendChannelMessage(string, string) error {
	return nil
}

func (NoopClient) SendChannelMessageWithFile(discordpkg.FileMessage) error {
	return nil
}

func (NoopClient) Close() error {
	return nil
}
