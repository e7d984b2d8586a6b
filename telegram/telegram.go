// Package telegram delivers scraped records to a Telegram chat.
package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"path/filepath"
	"sort"
	"strings"

	"scrapekit/models"
	"scrapekit/storage"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Bot API limits
const (
	maxCaption = 1024
	maxMessage = 4096
)

// Sender is the part of tgbotapi.BotAPI the notifier uses
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Notifier sends records and status messages to one chat
type Notifier struct {
	bot    Sender
	chatID int64
}

// New creates a notifier backed by a bot token
func New(token string, chatID int64) (*Notifier, error) {
	if token == "" {
		return nil, fmt.Errorf("%w: TELEGRAM_BOT_TOKEN environment variable is not set", models.ErrConfiguration)
	}
	if chatID == 0 {
		return nil, fmt.Errorf("%w: telegram chat id is not set", models.ErrConfiguration)
	}

	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}
	log.Printf("Authorized on account %s\n", bot.Self.UserName)

	return NewWithSender(bot, chatID), nil
}

// NewWithSender creates a notifier on an existing bot
func NewWithSender(bot Sender, chatID int64) *Notifier {
	return &Notifier{bot: bot, chatID: chatID}
}

// Notify sends a status message, split into several when too long
func (n *Notifier) Notify(ctx context.Context, text string) error {
	for _, part := range splitMessage(text, maxMessage) {
		if err := ctx.Err(); err != nil {
			return err
		}
		msg := tgbotapi.NewMessage(n.chatID, part)
		if _, err := n.bot.Send(msg); err != nil {
			return fmt.Errorf("failed to send message: %w", err)
		}
	}
	return nil
}

// splitMessage splits a message into chunks of specified size
func splitMessage(text string, maxLen int) []string {
	if len(text) <= maxLen {
		return []string{text}
	}

	var parts []string
	lines := strings.Split(text, "\n")
	var current strings.Builder

	for _, line := range lines {
		if current.Len()+len(line)+1 > maxLen {
			if current.Len() > 0 {
				parts = append(parts, current.String())
				current.Reset()
			}
			// a single line longer than maxLen is cut into pieces
			for len(line) > maxLen {
				parts = append(parts, line[:maxLen])
				line = line[maxLen:]
			}
		}
		if len(line) > 0 {
			current.WriteString(line)
			current.WriteString("\n")
		}
	}

	if current.Len() > 0 {
		parts = append(parts, current.String())
	}

	return parts
}

// Sink returns a save function sending the records as a JSON document with a
// summary caption. output names the attached file.
func (n *Notifier) Sink() storage.SaveFunc {
	return func(ctx context.Context, records []models.Record, output string) error {
		if err := ctx.Err(); err != nil {
			return err
		}

		data, err := json.MarshalIndent(records, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode records: %w", err)
		}

		name := filepath.Base(output)
		if output == "" {
			name = "records.json"
		}

		doc := tgbotapi.NewDocument(n.chatID, tgbotapi.FileBytes{Name: name, Bytes: data})
		doc.Caption = Summary(records)
		if _, err := n.bot.Send(doc); err != nil {
			return fmt.Errorf("failed to send document: %w", err)
		}

		log.Printf("Sent %d records to Telegram chat %d\n", len(records), n.chatID)
		return nil
	}
}

// Summary describes a record set: totals and a per-URL breakdown
func Summary(records []models.Record) string {
	if len(records) == 0 {
		return "⚠️ Scrape finished without records"
	}

	counts := make(map[string]int)
	pages := make(map[string]bool)
	for _, r := range records {
		url, _ := r[models.KeyPageURL].(string)
		counts[url]++
		pages[fmt.Sprintf("%s#%v", url, r[models.KeyPageNumber])] = true
	}

	urls := make([]string, 0, len(counts))
	for url := range counts {
		urls = append(urls, url)
	}
	sort.Strings(urls)

	var b strings.Builder
	fmt.Fprintf(&b, "✅ Scraped %d records from %d page(s)\n", len(records), len(pages))
	for _, url := range urls {
		line := fmt.Sprintf("\n%s: %d", url, counts[url])
		if b.Len()+len(line) > maxCaption-4 {
			b.WriteString("\n...")
			break
		}
		b.WriteString(line)
	}
	return b.String()
}
