package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

type authResponse struct {
	Token string `json:"token"`
	Error string `json:"error"`
}

// resolveToken returns --token, or obtains one through /api/login or /api/guest.
func resolveToken(ctx context.Context, f clientFlags) (string, error) {
	if f.token != "" {
		return f.token, nil
	}

	path, body := "/api/guest", []byte(nil)
	if f.username != "" {
		path = "/api/login"
		var err error
		body, err = json.Marshal(map[string]string{"username": f.username, "password": f.password})
		if err != nil {
			return "", err
		}
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(f.server, "/")+path, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%s: %w", path, err)
	}
	defer resp.Body.Close()

	var out authResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("%s: decode response: %w", path, err)
	}
	if resp.StatusCode >= 300 || out.Token == "" {
		return "", fmt.Errorf("%s: %s (%d)", path, out.Error, resp.StatusCode)
	}
	return out.Token, nil
}

// wsURL maps the relay base URL to its WebSocket endpoint.
func wsURL(server string) (string, error) {
	u, err := url.Parse(server)
	if err != nil {
		return "", fmt.Errorf("parse server url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http", "":
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	return u.String(), nil
}
