package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

type frame struct {
	Type     string `json:"type"`
	Message  string `json:"message"`
	Username string `json:"username"`
}

type counters struct {
	connected atomic.Int64
	sent      atomic.Int64
	acked     atomic.Int64
	rejected  atomic.Int64
	received  atomic.Int64
}

func main() {
	wsURL := flag.String("url", "ws://localhost:8080/chat", "chat websocket endpoint")
	clients := flag.Int("clients", 100, "concurrent websocket clients")
	messages := flag.Int("messages", 20, "messages per client")
	interval := flag.Duration("interval", 100*time.Millisecond, "pause between messages of one client")
	linger := flag.Duration("linger", 3*time.Second, "how long to keep reading after the last send")
	flag.Parse()

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).With().Timestamp().Logger()
	logger.Info().Int("clients", *clients).Int("messages", *messages).Str("url", *wsURL).Msg("starting load test")

	var c counters
	start := time.Now()

	g, ctx := errgroup.WithContext(context.Background())
	for i := 0; i < *clients; i++ {
		i := i
		g.Go(func() error {
			if err := runClient(ctx, &c, *wsURL, i, *messages, *interval, *linger); err != nil {
				logger.Warn().Err(err).Int("client", i).Msg("client failed")
			}
			return nil
		})
	}
	g.Wait()

	sent := c.sent.Load()
	received := c.received.Load()
	expected := c.acked.Load() * c.connected.Load()
	logger.Info().
		Int64("connected", c.connected.Load()).
		Int64("sent", sent).
		Int64("acked", c.acked.Load()).
		Int64("rejected", c.rejected.Load()).
		Int64("broadcasts_received", received).
		Int64("broadcasts_expected", expected).
		Dur("elapsed", time.Since(start)).
		Msg("load test complete")
}

// runClient connects with its own synthetic address so every client gets a
// distinct name and its own admission window.
func runClient(ctx context.Context, c *counters, url string, id, messages int, interval, linger time.Duration) error {
	header := http.Header{}
	header.Set("X-Forwarded-For", fmt.Sprintf("10.%d.%d.%d", (id>>16)&0xff, (id>>8)&0xff, id&0xff))
	header.Set("User-Agent", "anonchat-loadtest")

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()
	c.connected.Add(1)

	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		for {
			var f frame
			if err := conn.ReadJSON(&f); err != nil {
				return
			}
			switch f.Type {
			case "message":
				c.received.Add(1)
			case "messageSent":
				c.acked.Add(1)
			case "error":
				c.rejected.Add(1)
			}
		}
	}()

	for n := 0; n < messages; n++ {
		msg := map[string]string{
			"type":    "message",
			"message": fmt.Sprintf("load test message %d from client %d", n, id),
		}
		if err := conn.WriteJSON(msg); err != nil {
			return fmt.Errorf("send: %w", err)
		}
		c.sent.Add(1)
		time.Sleep(interval)
	}

	time.Sleep(linger)
	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	conn.Close()
	<-readDone
	return nil
}
