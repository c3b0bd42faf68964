// Package main provides a command-line client for the location sharing server.
package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/xiaot623/gogo/locshare/internal/protocol"
)

var (
	serverAddr      string
	participantName string
)

// Client represents a WebSocket client bound to one participant.
type Client struct {
	conn          *websocket.Conn
	participantID string
	done          chan struct{}
}

// NewClient connects to the session's WebSocket endpoint.
func NewClient(server, sessionID string) (*Client, error) {
	u, err := url.Parse(server)
	if err != nil {
		return nil, fmt.Errorf("parse server: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = "/ws/location/" + sessionID + "/"

	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}

	return &Client{
		conn:          conn,
		participantID: uuid.NewString(),
		done:          make(chan struct{}),
	}, nil
}

// Close closes the client connection.
func (c *Client) Close() error {
	close(c.done)
	return c.conn.Close()
}

func (c *Client) send(t protocol.MessageType, body interface{}) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}
	fields := map[string]interface{}{}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return err
	}
	fields["type"] = t
	return c.conn.WriteJSON(fields)
}

// Join announces the participant to the session.
func (c *Client) Join(name string) error {
	return c.send(protocol.TypeJoin, protocol.JoinMessage{
		ParticipantID:        c.participantID,
		ParticipantName:      name,
		InitialStatus:        "waiting",
		RequestExistingCheck: true,
	})
}

// SendLocation reports a position.
func (c *Client) SendLocation(name string, lat, lon float64) error {
	accuracy := 10.0
	return c.send(protocol.TypeLocationUpdate, protocol.LocationMessage{
		ParticipantID:   c.participantID,
		ParticipantName: name,
		Latitude:        &lat,
		Longitude:       &lon,
		Accuracy:        &accuracy,
	})
}

// SendChat posts a group chat message.
func (c *Client) SendChat(name, text string) error {
	return c.send(protocol.TypeChatMessage, protocol.ChatMessage{
		ChatType:   "group",
		SenderID:   c.participantID,
		SenderName: name,
		Text:       text,
	})
}

// Leave leaves the session.
func (c *Client) Leave() error {
	return c.send(protocol.TypeLeave, protocol.LeaveMessage{ParticipantID: c.participantID})
}

// ReadMessages reads and prints messages from the server.
func (c *Client) ReadMessages() {
	for {
		select {
		case <-c.done:
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				var ce *websocket.CloseError
				if errors.As(err, &ce) {
					fmt.Printf("\nConnection closed: %d %s\n", ce.Code, ce.Text)
				} else {
					log.Printf("Read error: %v", err)
				}
				return
			}

			var env protocol.Envelope
			if err := json.Unmarshal(data, &env); err != nil {
				log.Printf("Unmarshal error: %v", err)
				continue
			}

			fmt.Printf("\n[%s] Received:\n%s\n", env.Type, pretty(data))
		}
	}
}

func pretty(data []byte) string {
	var out bytes.Buffer
	if err := json.Indent(&out, data, "", "  "); err != nil {
		return string(data)
	}
	return out.String()
}

func request(method, path string, body interface{}) error {
	var r io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		r = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, strings.TrimRight(serverAddr, "/")+path, r)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	fmt.Printf("%s\n%s\n", resp.Status, pretty(data))
	if resp.StatusCode >= 400 {
		return fmt.Errorf("request failed: %s", resp.Status)
	}
	return nil
}

func waitInterrupt() {
	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)
	<-interrupt
	fmt.Println("\nInterrupted")
}

func newCreateCmd() *cobra.Command {
	var duration int
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return request(http.MethodPost, "/api/sessions", map[string]int{"duration_minutes": duration})
		},
	}
	cmd.Flags().IntVar(&duration, "duration", 30, "Session duration in minutes")
	return cmd
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <session-id>",
		Short: "Show a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return request(http.MethodGet, "/api/sessions/"+args[0], nil)
		},
	}
}

func newJoinCmd() *cobra.Command {
	var lat, lon float64
	var withLocation bool
	cmd := &cobra.Command{
		Use:   "join <session-id>",
		Short: "Join a session and print every message",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := NewClient(serverAddr, args[0])
			if err != nil {
				return err
			}
			defer client.Close()

			go client.ReadMessages()

			if err := client.Join(participantName); err != nil {
				return fmt.Errorf("join: %w", err)
			}
			fmt.Printf("Joined as %s\n", client.participantID)

			if withLocation {
				if err := client.SendLocation(participantName, lat, lon); err != nil {
					return fmt.Errorf("location: %w", err)
				}
			}

			waitInterrupt()
			return client.Leave()
		},
	}
	cmd.Flags().Float64Var(&lat, "lat", 0, "Latitude to report")
	cmd.Flags().Float64Var(&lon, "lon", 0, "Longitude to report")
	cmd.Flags().BoolVar(&withLocation, "share", false, "Send one location update after joining")
	return cmd
}

func newChatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chat <session-id>",
		Short: "Join a session and send group chat messages from stdin",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := NewClient(serverAddr, args[0])
			if err != nil {
				return err
			}
			defer client.Close()

			go client.ReadMessages()

			if err := client.Join(participantName); err != nil {
				return fmt.Errorf("join: %w", err)
			}

			fmt.Println("\nType a message and press Enter to send.")
			fmt.Println("Commands: /quit to exit")

			scanner := bufio.NewScanner(os.Stdin)
			for scanner.Scan() {
				input := strings.TrimSpace(scanner.Text())
				if input == "" {
					continue
				}
				if input == "/quit" {
					fmt.Println("Bye!")
					return client.Leave()
				}
				if err := client.SendChat(participantName, input); err != nil {
					log.Printf("Send error: %v", err)
				}
			}
			return client.Leave()
		},
	}
}

func main() {
	log.SetFlags(log.Ltime)

	root := &cobra.Command{
		Use:          "locshare-cli",
		Short:        "Command-line client for the location sharing server",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&serverAddr, "server", "http://localhost:8000", "Server base URL")
	root.PersistentFlags().StringVar(&participantName, "name", "cli", "Participant display name")

	root.AddCommand(newCreateCmd(), newStatusCmd(), newJoinCmd(), newChatCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
