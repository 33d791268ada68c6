package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"github.com/zhouzirui/supportdesk/backend/internal/model/chat"
	"github.com/zhouzirui/supportdesk/backend/internal/service/poller"
)

type options struct {
	name     string
	phone    string
	messages []string
	rating   int
	skip     bool
	interval time.Duration
}

func main() {
	if err := godotenv.Load(); err != nil {
		log.WithError(err).Debug("no .env file loaded")
	}

	base := flag.String("base", "http://localhost:8080", "Support desk base URL")
	name := flag.String("name", "Test Client", "Client name")
	phone := flag.String("phone", "+70000000000", "Client phone")
	messages := flag.String("messages", "Hello|I need help with my order", "Messages to send, separated by |")
	rating := flag.Int("rating", 5, "Rating given when asked")
	skip := flag.Bool("skip", false, "Skip the rating instead of rating")
	interval := flag.Duration("interval", poller.DefaultInterval, "Poll interval")
	timeout := flag.Duration("timeout", 10*time.Minute, "Give up after this long")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	opts := options{
		name:     *name,
		phone:    *phone,
		messages: strings.Split(*messages, "|"),
		rating:   *rating,
		skip:     *skip,
		interval: *interval,
	}
	if err := simulate(ctx, newAPIClient(*base, 15*time.Second), opts, os.Stdout); err != nil {
		log.WithError(err).Fatal("simulation failed")
	}
}

// simulate opens a chat, writes the scripted messages and follows the chat
// until it is rated or skipped.
func simulate(ctx context.Context, c *apiClient, opts options, out io.Writer) error {
	opened, err := c.open(ctx, opts.name, opts.phone)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "session %s %s", opened.ID, opened.Status)
	if opened.Hint != "" {
		fmt.Fprintf(out, " (%s)", opened.Hint)
	}
	fmt.Fprintln(out)

	for _, text := range opts.messages {
		if text = strings.TrimSpace(text); text == "" {
			continue
		}
		msg, err := c.send(ctx, opened.ID, text)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "-> #%d %s\n", msg.ID, msg.Text)
	}

	feed := poller.New(func(ctx context.Context) (chat.Session, error) {
		return c.get(ctx, opened.ID)
	}, opts.interval)

	return feed.Run(ctx, func(events []poller.Event) error {
		for _, ev := range events {
			switch ev.Type {
			case poller.EventMessages:
				for _, m := range ev.Messages {
					if m.SenderType == chat.SenderOperator {
						fmt.Fprintf(out, "<- #%d %s\n", m.ID, m.Text)
					}
				}
			case poller.EventStatus:
				fmt.Fprintf(out, "status %s\n", ev.To)
			case poller.EventOperator:
				if ev.OperatorID != "" {
					fmt.Fprintf(out, "operator %s\n", ev.OperatorID)
				}
			case poller.EventRatingRequested:
				if opts.skip {
					if _, err := c.skip(ctx, opened.ID); err != nil {
						return err
					}
					fmt.Fprintln(out, "rating skipped")
					continue
				}
				if _, err := c.rate(ctx, opened.ID, opts.rating); err != nil {
					return err
				}
				fmt.Fprintf(out, "rated %d\n", opts.rating)
			}
		}
		return nil
	})
}
