package client

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
)

var ErrIncorrectLogin = errors.New("incorrect username or password")

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token string `json:"token"`
	Name  string `json:"name"`
	Role  string `json:"role"`
}

// Login authenticates against the server and stores the session token
// in the global config.
func Login(globalConfig GlobalConfig, username, password string) error {
	loginUrl, err := url.JoinPath(globalConfig.ServerBaseUrl, "api", "login")
	if err != nil {
		return fmt.Errorf("Login create path: %w", err)
	}

	body, err := json.Marshal(loginRequest{Username: username, Password: password})
	if err != nil {
		return fmt.Errorf("Login marshal: %w", err)
	}

	resp, err := http.Post(loginUrl, "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("Login post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return ErrIncorrectLogin
	}

	if resp.StatusCode != 200 {
		return fmt.Errorf("Login unexpected status code %d", resp.StatusCode)
	}

	var login loginResponse
	if err := json.NewDecoder(resp.Body).Decode(&login); err != nil {
		return fmt.Errorf("Login decode: %w", err)
	}

	globalConfig.Token = login.Token
	globalConfig.User = login.Name

	if err := WriteGlobalConfig(globalConfig); err != nil {
		return fmt.Errorf("Login write config: %w", err)
	}

	return nil
}
