// gigchat CLI - command line client for the gigchat messaging service
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/eldtechnologies/gigchat/clients/go/gigchat"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	if len(args) < 1 {
		usage()
		return errors.New("missing command")
	}

	cmd, args := args[0], args[1:]

	var (
		baseURL  string
		userID   int64
		otherID  int64
		jobID    string
		asJSON   bool
		convID   string
		receiver int64
	)

	flagSet := pflag.NewFlagSet(cmd, pflag.ContinueOnError)
	flagSet.StringVar(&baseURL, "url", envOr("GIGCHAT_URL", "http://localhost:8080"), "server URL")
	flagSet.Int64VarP(&userID, "user", "u", 0, "acting user id")
	flagSet.Int64VarP(&otherID, "other", "o", 0, "other participant id")
	flagSet.Int64VarP(&receiver, "to", "t", 0, "receiver id (send)")
	flagSet.StringVarP(&jobID, "job", "j", gigchat.GeneralContext, "job id or \"general\"")
	flagSet.StringVar(&convID, "conversation", "", "conversation id (read)")
	flagSet.BoolVar(&asJSON, "json", false, "print raw JSON")
	if err := flagSet.Parse(args); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client := gigchat.NewClient(baseURL)

	switch cmd {
	case "health":
		resp, err := client.Health(ctx)
		if err != nil {
			return err
		}
		printJSON(resp)

	case "stats":
		resp, err := client.Stats(ctx)
		if err != nil {
			return err
		}
		printJSON(resp)

	case "send":
		if flagSet.NArg() < 1 || userID == 0 || receiver == 0 {
			return errors.New("usage: gigchat send -u <sender> -t <receiver> [-j job] <message>")
		}
		msg, err := client.SendMessage(ctx, gigchat.SendMessageRequest{
			SenderID:   userID,
			ReceiverID: receiver,
			ContextID:  jobID,
			Content:    flagSet.Arg(0),
		})
		if err != nil {
			return err
		}
		fmt.Printf("Sent: %s\n", msg.ID)

	case "history":
		if userID == 0 || otherID == 0 {
			return errors.New("usage: gigchat history -u <user> -o <other> [-j job]")
		}
		msgs, err := client.History(ctx, jobID, userID, otherID)
		if err != nil {
			return err
		}
		if asJSON {
			printJSON(msgs)
			return nil
		}
		for _, msg := range msgs {
			printMessage(msg, msg.SentBy(userID))
		}

	case "conversations":
		if userID == 0 {
			return errors.New("usage: gigchat conversations -u <user>")
		}
		convs, err := client.Conversations(ctx, userID)
		if err != nil {
			return err
		}
		if asJSON {
			printJSON(convs)
			return nil
		}
		for _, c := range convs {
			fmt.Printf("  %-24s with %d  (%d unread)  %s\n", c.ConversationID, c.OtherUserID, c.UnreadCount, c.LastMessage.Content)
		}

	case "read":
		if userID == 0 || convID == "" {
			return errors.New("usage: gigchat read -u <user> --conversation <id>")
		}
		resp, err := client.MarkRead(ctx, userID, convID)
		if err != nil {
			return err
		}
		fmt.Printf("Marked %d message(s) read\n", resp.ReadCount)

	case "listen":
		if userID == 0 {
			return errors.New("usage: gigchat listen -u <user> [-o other] [-j job]")
		}
		return listen(ctx, client, gigchat.StreamParams{UserID: userID, JobID: jobID, OtherUserID: otherID})

	case "notifications":
		if userID == 0 {
			return errors.New("usage: gigchat notifications -u <user>")
		}
		stream, err := client.OpenNotifications(ctx, userID)
		if err != nil {
			return err
		}
		go closeOnDone(ctx, stream)
		for {
			ev, err := stream.Next()
			if err != nil {
				return nil
			}
			fmt.Printf("[%s] %s\n", ev.Event, ev.Data)
		}

	case "help", "--help", "-h":
		usage()

	default:
		usage()
		return fmt.Errorf("unknown command: %s", cmd)
	}
	return nil
}

// listen prints history and then live messages for one conversation.
func listen(ctx context.Context, client *gigchat.Client, p gigchat.StreamParams) error {
	stream, err := client.OpenMessages(ctx, p)
	if err != nil {
		return err
	}
	go closeOnDone(ctx, stream)

	if p.OtherUserID > 0 {
		history, err := client.History(ctx, p.JobID, p.UserID, p.OtherUserID)
		if err != nil {
			return err
		}
		for _, msg := range history {
			printMessage(msg, msg.SentBy(p.UserID))
		}
		stream.Observe(history)
	}

	for {
		msg, err := stream.NextMessage()
		if err != nil {
			return nil
		}
		printMessage(msg.Message, msg.IsMine)
	}
}

func closeOnDone(ctx context.Context, stream *gigchat.Stream) {
	<-ctx.Done()
	stream.Close()
}

func printMessage(msg gigchat.Message, mine bool) {
	from := fmt.Sprintf("%d", msg.SenderID)
	if mine {
		from = "me"
	}
	read := ""
	if msg.IsRead {
		read = " ✓"
	}
	fmt.Printf("[%s] %s: %s%s\n", msg.SentAt.Local().Format("2006-01-02 15:04:05"), from, msg.Content, read)
}

func usage() {
	fmt.Println(`gigchat CLI - marketplace messaging

Usage: gigchat <command> [flags]

Commands:
  send -u <id> -t <id> [-j job] <message>   Send a message
  history -u <id> -o <id> [-j job]          Show conversation history
  conversations -u <id>                     List conversations
  read -u <id> --conversation <id>          Mark a conversation read
  listen -u <id> [-o <id>] [-j job]         Stream a conversation
  notifications -u <id>                     Stream personal notifications
  stats                                     Show service statistics
  health                                    Check server health

Environment:
  GIGCHAT_URL   Server URL (default: http://localhost:8080)`)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func printJSON(v interface{}) {
	data, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(data))
}
