// Package api is the request/response collaborator of the sync engine: a thin
// bearer-authenticated client for the chat REST endpoints.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"chatsync/internal/logging"
	"chatsync/internal/model"
)

var log = logging.Logger("api")

// ErrUnauthorized is returned for 401 responses: the credential is missing,
// expired, or its account no longer exists.
var ErrUnauthorized = errors.New("api: unauthorized")

type StatusError struct {
	Method string
	Path   string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("api: %s %s: status %d: %s", e.Method, e.Path, e.Code, e.Body)
}

type Options struct {
	BaseURL    string
	Timeout    time.Duration
	HTTPClient *http.Client
	// OnUnauthorized runs on the calling goroutine after any 401.
	OnUnauthorized func()
}

type Client struct {
	baseURL string
	http    *http.Client

	mu             sync.RWMutex
	token          string
	onUnauthorized func()
}

func New(opts Options) *Client {
	hc := opts.HTTPClient
	if hc == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		hc = &http.Client{Timeout: timeout}
	}
	return &Client{
		baseURL:        strings.TrimRight(opts.BaseURL, "/"),
		http:           hc,
		onUnauthorized: opts.OnUnauthorized,
	}
}

func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

func (c *Client) SetOnUnauthorized(fn func()) {
	c.mu.Lock()
	c.onUnauthorized = fn
	c.mu.Unlock()
}

type ProfileUpdate struct {
	Name    *string               `json:"name,omitempty"`
	Profile *model.ProfileDetails `json:"profile,omitempty"`
}

type Attachment struct {
	Name    string
	Content io.Reader
}

type OutgoingMessage struct {
	Text    string
	Sticker string
	Files   []Attachment
}

func (c *Client) Conversations(ctx context.Context) ([]model.Conversation, error) {
	var out []model.Conversation
	if err := c.getJSON(ctx, "conversations/mine", &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Friends(ctx context.Context) ([]model.Friend, error) {
	var out []model.Friend
	if err := c.getJSON(ctx, "friends/list", &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) FriendRequests(ctx context.Context) ([]model.FriendRequest, error) {
	var out []model.FriendRequest
	if err := c.getJSON(ctx, "friends/requests", &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Profile(ctx context.Context) (model.Profile, error) {
	var out model.Profile
	err := c.getJSON(ctx, "friends/profile", &out)
	return out, err
}

func (c *Client) UserProfile(ctx context.Context, userID string) (model.Profile, error) {
	var out model.Profile
	err := c.getJSON(ctx, "friends/profile/"+url.PathEscape(userID), &out)
	return out, err
}

func (c *Client) UpdateProfile(ctx context.Context, update ProfileUpdate) (model.Profile, error) {
	var out model.Profile
	err := c.sendJSON(ctx, http.MethodPut, "friends/profile", update, &out)
	return out, err
}

// UploadAvatar posts the image as multipart field "avatar" and returns the
// stored avatar path.
func (c *Client) UploadAvatar(ctx context.Context, filename string, content io.Reader) (string, error) {
	body, contentType, err := multipartBody(func(w *multipart.Writer) error {
		return writeFilePart(w, "avatar", filename, content)
	})
	if err != nil {
		return "", err
	}
	var out struct {
		Avatar string `json:"avatar"`
	}
	if err := c.do(ctx, http.MethodPost, "friends/avatar", body, contentType, &out); err != nil {
		return "", err
	}
	return out.Avatar, nil
}

func (c *Client) Messages(ctx context.Context, conversationID string) ([]model.Message, error) {
	var out []model.Message
	if err := c.getJSON(ctx, "conversations/"+url.PathEscape(conversationID)+"/messages", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// SendMessage persists a message and returns it with its server-assigned ID.
// Messages with files go out as multipart ("text" + repeated "files"),
// plain ones as JSON.
func (c *Client) SendMessage(ctx context.Context, conversationID string, msg OutgoingMessage) (model.Message, error) {
	path := "conversations/" + url.PathEscape(conversationID) + "/messages"
	var out model.Message
	if len(msg.Files) == 0 {
		err := c.sendJSON(ctx, http.MethodPost, path, map[string]string{"text": msg.Text, "sticker": msg.Sticker}, &out)
		return out, err
	}

	body, contentType, err := multipartBody(func(w *multipart.Writer) error {
		if err := w.WriteField("text", msg.Text); err != nil {
			return err
		}
		if msg.Sticker != "" {
			if err := w.WriteField("sticker", msg.Sticker); err != nil {
				return err
			}
		}
		for _, f := range msg.Files {
			if err := writeFilePart(w, "files", f.Name, f.Content); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return model.Message{}, err
	}
	err = c.do(ctx, http.MethodPost, path, body, contentType, &out)
	return out, err
}

func (c *Client) CreatePrivateConversation(ctx context.Context, friendID string) (model.Conversation, error) {
	var out model.Conversation
	err := c.sendJSON(ctx, http.MethodPost, "conversations/create-private", map[string]string{"friendId": friendID}, &out)
	return out, err
}

func (c *Client) SendFriendRequest(ctx context.Context, userID string) error {
	return c.sendJSON(ctx, http.MethodPost, "friends/request", map[string]string{"friendId": userID}, nil)
}

func (c *Client) AcceptFriendRequest(ctx context.Context, requestID string) error {
	return c.sendJSON(ctx, http.MethodPost, "friends/accept/"+url.PathEscape(requestID), struct{}{}, nil)
}

func (c *Client) RejectFriendRequest(ctx context.Context, requestID string) error {
	return c.sendJSON(ctx, http.MethodPost, "friends/reject/"+url.PathEscape(requestID), struct{}{}, nil)
}

func (c *Client) RemoveFriend(ctx context.Context, friendID string) error {
	return c.do(ctx, http.MethodDelete, "friends/remove/"+url.PathEscape(friendID), nil, "", nil)
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodGet, path, nil, "", out)
}

func (c *Client) sendJSON(ctx context.Context, method, path string, in any, out any) error {
	data, err := json.Marshal(in)
	if err != nil {
		return err
	}
	return c.do(ctx, method, path, bytes.NewReader(data), "application/json", out)
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, contentType string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+"/"+path, body)
	if err != nil {
		return err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")

	c.mu.RLock()
	token := c.token
	onUnauthorized := c.onUnauthorized
	c.mu.RUnlock()
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("api: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		_, _ = io.Copy(io.Discard, resp.Body)
		log.Warnw("request rejected as unauthorized", "method", method, "path", path)
		if onUnauthorized != nil {
			onUnauthorized()
		}
		return ErrUnauthorized
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &StatusError{Method: method, Path: path, Code: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("api: %s %s: decode: %w", method, path, err)
	}
	return nil
}

func multipartBody(write func(w *multipart.Writer) error) (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if err := write(w); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}

func writeFilePart(w *multipart.Writer, field, filename string, content io.Reader) error {
	part, err := w.CreateFormFile(field, filename)
	if err != nil {
		return err
	}
	_, err = io.Copy(part, content)
	return err
}
