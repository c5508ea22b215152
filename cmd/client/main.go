package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/dcstrange/websocket-push-system/internal/client"
	"github.com/dcstrange/websocket-push-system/internal/logging"
)

func main() {
	var (
		serverURL = flag.String("server", "http://localhost:8080", "server base URL")
		username  = flag.String("username", "alice", "login username")
		password  = flag.String("password", "alice-password", "login password")
		dataType  = flag.String("type", "analysis", "data type to request")
		items     = flag.Int("items", 50, "dataset size to request")
		requestID = flag.String("request-id", "", "request id (random when empty)")
		logLevel  = flag.String("log-level", "warn", "log level")
	)
	flag.Parse()

	logging.InitLogger(*logLevel, "text")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	login, err := client.Login(ctx, *serverURL, client.Credentials{
		Username: *username,
		Password: *password,
	})
	if err != nil {
		log.Fatalf("Login failed: %v", err)
	}
	fmt.Printf("logged in as %s (user %s)\n", login.User.Username, login.User.ID)

	wsURL := "ws" + strings.TrimPrefix(*serverURL, "http") + "/ws"
	c := client.New(client.Config{URL: wsURL, Token: login.Token}, slog.Default())
	defer c.Close()

	go func() {
		if err := c.Run(ctx); err != nil && ctx.Err() == nil {
			log.Fatalf("Connection failed: %v", err)
		}
	}()

	events := requestWhenConnected(ctx, c, *requestID, *dataType, *items)

	for ev := range events {
		switch ev.Kind {
		case client.EventAccepted:
			fmt.Printf("accepted: task %s\n", ev.TaskID)
		case client.EventData:
			fmt.Printf("progress: %d/%d items (%.0f%%)\n",
				ev.Batch.ProcessedItems, ev.Batch.TotalItems, ev.Batch.Progress)
			if ev.Batch.IsFinal {
				fmt.Println("done")
			}
		case client.EventError:
			fmt.Printf("error: %s\n", ev.Message)
		}
	}
}

// requestWhenConnected retries until the handshake has finished, then
// submits the request.
func requestWhenConnected(ctx context.Context, c *client.Client, requestID, dataType string, items int) <-chan client.Event {
	if requestID == "" {
		requestID = uuid.NewString()
	}

	deadline := time.Now().Add(15 * time.Second)
	for {
		events, err := c.Request(requestID, dataType, map[string]any{"items": items})
		if err == nil {
			return events
		}
		if time.Now().After(deadline) || ctx.Err() != nil {
			log.Fatalf("Request failed: %v", err)
		}
		time.Sleep(100 * time.Millisecond)
	}
}
