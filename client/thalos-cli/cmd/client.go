package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"


	"github.com/gorilla/websocket"
)

// apiClient talks to the task service's HTTP and WebSocket endpoints.
type apiClient struct {
	base *url.URL
	http *http.Client
}

func newAPIClient(server string) (*apiClient, error) {
	base, err := url.Parse(strings.TrimRight(server, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid server address %q: %w", server, err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("invalid server address %q: scheme must be http or https", server)
	}
	return &apiClient{base: base, http: &http.Client{Timeout: 10 * time.Second}}, nil
}

type apiError struct {
	StatusCode int
	Message    string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
}

func (c *apiClient) endpoint(path string, query url.Values) string {
	u := *c.base
	u.Path += path
	u.RawQuery = query.Encode()
	return u.String()
}

func (c *apiClient) do(req *http.Request, wantStatus int, out interface{}) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != wantStatus {
		var body struct {
			Error string `json:"error"`
		}
		raw, _ := io.ReadAll(resp.Body)
		if json.Unmarshal(raw, &body) != nil || body.Error == "" {
			body.Error = strings.TrimSpace(string(raw))
		}
		return &apiError{StatusCode: resp.StatusCode, Message: body.Error}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("error decoding response: %w", err)
	}
	return nil
}

func (c *apiClient) Submit(intent string, metadata map[string]string) (task, error) {
	payload, err := json.Marshal(map[string]interface{}{"intent": intent, "metadata": metadata})
	if err != nil {
		return task{}, fmt.Errorf("error creating JSON payload: %w", err)
	}
	req, err := http.NewRequest(http.MethodPost, c.endpoint("/api/v1/tasks", nil), bytes.NewReader(payload))
	if err != nil {
		return task{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	var t task
	err = c.do(req, http.StatusAccepted, &t)
	return t, err
}

func (c *apiClient) Get(id string) (task, error) {
	req, err := http.NewRequest(http.MethodGet, c.endpoint("/api/v1/tasks/"+url.PathEscape(id), nil), nil)
	if err != nil {
		return task{}, err
	}
	var t task
	err = c.do(req, http.StatusOK, &t)
	return t, err
}

func (c *apiClient) List(status string, limit int) ([]task, error) {
	query := url.Values{}
	if status != "" {
		query.Set("status", status)
	}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	req, err := http.NewRequest(http.MethodGet, c.endpoint("/api/v1/tasks", query), nil)
	if err != nil {
		return nil, err
	}
	var body struct {
		Tasks []task `json:"tasks"`
	}
	err = c.do(req, http.StatusOK, &body)
	return body.Tasks, err
}

func (c *apiClient) Status() (systemStatus, error) {
	req, err := http.NewRequest(http.MethodGet, c.endpoint("/api/v1/status", nil), nil)
	if err != nil {
		return systemStatus{}, err
	}
	var status systemStatus
	err = c.do(req, http.StatusOK, &status)
	return status, err
}

// Subscribe opens the event stream, limited to taskID when it is not empty.
func (c *apiClient) Subscribe(taskID string) (*websocket.Conn, error) {
	u := *c.base
	u.Scheme = "ws"
	if c.base.Scheme == "https" {
		u.Scheme = "wss"
	}
	u.Path += "/ws/subscribe"
	if taskID != "" {
		u.RawQuery = url.Values{"task_id": {taskID}}.Encode()
	}
	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", u.String(), err)
	}
	return conn, nil
}
