package natsio

import (
	"encoding/json"
	"log"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/COSD/internal/coserr"
)

// Client wraps a NATS connection with JSON helpers and reconnect handling
type Client struct {
	conn *nats.Conn
}

// Connect dials url and keeps reconnecting forever
func Connect(url string) (*Client, error) {
	opts := []nats.Option{
		nats.ReconnectWait(2 * time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Printf("[NATS] Disconnected: %v", err)
			}
		}),
		nats.ReconnectHandler(func(conn *nats.Conn) {
			log.Printf("[NATS] Reconnected to %s", conn.ConnectedUrl())
		}),
	}

	conn, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, coserr.Wrap(coserr.KindExternal, "natsio.Connect", err)
	}
	return &Client{conn: conn}, nil
}

// Close drains and closes the connection
func (c *Client) Close() {
	if c.conn != nil {
		c.conn.Close()
	}
}

// PublishJSON publishes a JSON-encoded payload to a subject
func (c *Client) PublishJSON(subject string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return coserr.Wrap(coserr.KindInternal, "natsio.PublishJSON", err)
	}
	if err := c.conn.Publish(subject, data); err != nil {
		return coserr.Wrap(coserr.KindExternal, "natsio.PublishJSON", err)
	}
	return nil
}

// Subscribe creates an async subscription delivering raw payload bytes
func (c *Client) Subscribe(subject string, handler func(subject string, data []byte)) (*nats.Subscription, error) {
	sub, err := c.conn.Subscribe(subject, func(msg *nats.Msg) {
		handler(msg.Subject, msg.Data)
	})
	if err != nil {
		return nil, coserr.Wrap(coserr.KindExternal, "natsio.Subscribe", err)
	}
	return sub, nil
}

// Flush pushes buffered publishes to the server
func (c *Client) Flush() error {
	if err := c.conn.Flush(); err != nil {
		return coserr.Wrap(coserr.KindExternal, "natsio.Flush", err)
	}
	return nil
}

// Connected reports whether the connection is currently up
func (c *Client) Connected() bool {
	return c.conn != nil && c.conn.IsConnected()
}
