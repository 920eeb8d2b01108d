// Package rest is the client for the marketplace chat REST API. It only
// speaks the documented contract; all interpretation of records (direction,
// status merging, ordering) happens in the chat package.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

type Client struct {
	baseURL string
	token   string
	httpc   *http.Client
	logger  *log.Logger
}

// NewClient builds a client for the given API base URL. The timeout is the
// fixed client-side abort timeout applied to every call; zero falls back to
// 10 seconds.
func NewClient(baseURL, token string, timeout time.Duration, logger *log.Logger) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		token:   token,
		httpc:   &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

type Contact struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Phone     string `json:"phone"`
	WhatsApp  string `json:"whatsapp"`
	AvatarURL string `json:"avatarUrl"`
}

type Room struct {
	ID          string         `json:"id"`
	Title       string         `json:"title"`
	PropertyID  string         `json:"propertyId"`
	Counterpart Contact        `json:"counterpart"`
	UnreadCount int            `json:"unreadCount"`
	LastMessage *MessageRecord `json:"lastMessage,omitempty"`
}

type MessageRecord struct {
	ID         string    `json:"id"`
	ChatRoomID string    `json:"chatRoomId"`
	SenderID   string    `json:"senderId"`
	SenderName string    `json:"senderName"`
	Content    string    `json:"content"`
	Mine       bool      `json:"mine"`
	Status     string    `json:"status"`
	CreatedAt  time.Time `json:"createdAt"`
}

type createRoomRequest struct {
	PropertyID     string `json:"propertyId"`
	Title          string `json:"title"`
	InitialMessage string `json:"initialMessage"`
}

type postMessageRequest struct {
	Content         string `json:"content"`
	ParentMessageID string `json:"parentMessageId,omitempty"`
}

type statusRequest struct {
	Status string `json:"status"`
}

// MyRooms lists the caller's own conversations (buyer view).
func (c *Client) MyRooms(ctx context.Context) ([]Room, error) {
	var rooms []Room
	if err := c.do(ctx, http.MethodGet, "/api/chat/rooms", nil, &rooms); err != nil {
		return nil, fmt.Errorf("failed to fetch rooms: %w", err)
	}
	return rooms, nil
}

// PropertyRooms lists conversations about one property (owner view).
func (c *Client) PropertyRooms(ctx context.Context, propertyID string) ([]Room, error) {
	path := "/api/chat/rooms/property/" + url.PathEscape(propertyID)
	var rooms []Room
	if err := c.do(ctx, http.MethodGet, path, nil, &rooms); err != nil {
		return nil, fmt.Errorf("failed to fetch property rooms: %w", err)
	}
	return rooms, nil
}

// AllRooms lists every conversation (admin view).
func (c *Client) AllRooms(ctx context.Context) ([]Room, error) {
	var rooms []Room
	if err := c.do(ctx, http.MethodGet, "/api/chat/rooms/all", nil, &rooms); err != nil {
		return nil, fmt.Errorf("failed to fetch all rooms: %w", err)
	}
	return rooms, nil
}

// CreateRoom opens (or reuses, server-side) a conversation about a property
// with a default opening message.
func (c *Client) CreateRoom(ctx context.Context, propertyID, title, initialMessage string) (Room, error) {
	req := createRoomRequest{
		PropertyID:     propertyID,
		Title:          title,
		InitialMessage: initialMessage,
	}
	var room Room
	if err := c.do(ctx, http.MethodPost, "/api/chat/rooms", req, &room); err != nil {
		return Room{}, fmt.Errorf("failed to create room: %w", err)
	}
	return room, nil
}

func (c *Client) Room(ctx context.Context, roomID string) (Room, error) {
	path := "/api/chat/rooms/" + url.PathEscape(roomID)
	var room Room
	if err := c.do(ctx, http.MethodGet, path, nil, &room); err != nil {
		return Room{}, fmt.Errorf("failed to fetch room: %w", err)
	}
	return room, nil
}

// History fetches one page of a room's messages in server order.
func (c *Client) History(ctx context.Context, roomID string, page, size int, includeReplies bool) ([]MessageRecord, error) {
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("size", strconv.Itoa(size))
	q.Set("includeReplies", strconv.FormatBool(includeReplies))
	path := "/api/chat/rooms/" + url.PathEscape(roomID) + "/messages?" + q.Encode()

	var msgs []MessageRecord
	if err := c.do(ctx, http.MethodGet, path, nil, &msgs); err != nil {
		return nil, fmt.Errorf("failed to fetch history: %w", err)
	}
	return msgs, nil
}

func (c *Client) PostMessage(ctx context.Context, roomID, content, parentMessageID string) (MessageRecord, error) {
	req := postMessageRequest{Content: content, ParentMessageID: parentMessageID}
	path := "/api/chat/rooms/" + url.PathEscape(roomID) + "/messages"

	var rec MessageRecord
	if err := c.do(ctx, http.MethodPost, path, req, &rec); err != nil {
		return MessageRecord{}, fmt.Errorf("failed to post message: %w", err)
	}
	return rec, nil
}

// UpdateStatus flips one message's delivery status server-side.
func (c *Client) UpdateStatus(ctx context.Context, messageID, status string) error {
	path := "/api/chat/messages/" + url.PathEscape(messageID) + "/status"
	if err := c.do(ctx, http.MethodPatch, path, statusRequest{Status: status}, nil); err != nil {
		return fmt.Errorf("failed to update message status: %w", err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s %s: unexpected status %d: %s", method, path, resp.StatusCode, bytes.TrimSpace(data))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
