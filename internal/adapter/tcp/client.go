package tcp

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/goccy/go-json"
)

// ErrNotFound is returned for StatusKeyNotFound replies.
var ErrNotFound = errors.New("not found")

// ServerError carries a non-OK status and the server's message.
type ServerError struct {
	Status  uint8
	Message string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("server status %d: %s", e.Status, e.Message)
}

// Client is a synchronous client for the binary protocol. It is safe for
// concurrent use; requests are serialized on one connection.
type Client struct {
	mu   sync.Mutex
	conn net.Conn
	r    *bufio.Reader
}

func Dial(addr string, timeout time.Duration) (*Client, error) {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, err
	}
	return &Client{conn: conn, r: bufio.NewReader(conn)}, nil
}

func (c *Client) Close() error {
	return c.conn.Close()
}

// Do sends one request and returns the reply value. Non-OK statuses come
// back as ErrNotFound or *ServerError.
func (c *Client) Do(op uint8, key string, value []byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := WritePacket(c.conn, op, key, value); err != nil {
		return nil, err
	}
	p, err := ReadPacket(c.r)
	if err != nil {
		return nil, err
	}

	switch p.Opcode {
	case StatusOK:
		return p.Value, nil
	case StatusKeyNotFound:
		return nil, ErrNotFound
	}
	return nil, &ServerError{Status: p.Opcode, Message: string(p.Value)}
}

func (c *Client) SelectTenant(id string) error {
	_, err := c.Do(OpSelectTenant, id, nil)
	return err
}

// ExpireMember returns the 0/1 reply of OpExpireMember.
func (c *Client) ExpireMember(key, member string, ttl int64, unit string) (int, error) {
	body, err := json.Marshal(ExpireMemberRequest{Member: member, TTL: &ttl, Unit: unit})
	if err != nil {
		return 0, err
	}
	v, err := c.Do(OpExpireMember, key, body)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(string(v))
}

// TTLMember returns the remaining time of an active expiration.
func (c *Client) TTLMember(key, member string) (time.Duration, error) {
	v, err := c.Do(OpTTLMember, key, []byte(member))
	if err != nil {
		return 0, err
	}
	ms, err := strconv.ParseInt(string(v), 10, 64)
	if err != nil {
		return 0, err
	}
	return time.Duration(ms) * time.Millisecond, nil
}
