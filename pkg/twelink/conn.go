// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package twelink

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"golang.org/x/term"
)

// PasswordEnv holds the WebSocket bridge password.
const PasswordEnv = "TWESTAGE_PASSWORD"

// Conn is a byte stream to a module.
type Conn interface {
	io.Reader
	io.Writer
	io.Closer
}

// ErrNoEndpoint is returned by Open when neither a port nor a URL is set.
var ErrNoEndpoint = errors.New("either --port or --url must be specified")

// Endpoint selects a serial port or a WebSocket bridge.
type Endpoint struct {
	Port string
	Baud int
	// ReadTimeout bounds serial reads so callers can poll frame timeouts.
	ReadTimeout time.Duration
	URL         string
	Username    string
	// NoSSLVerify skips certificate checks for wss:// URLs.
	NoSSLVerify bool
	TextWrites  bool
}

// Open connects to the endpoint, preferring the WebSocket URL when both
// are set. It returns a description for status lines.
func Open(ctx context.Context, ep Endpoint) (Conn, string, error) {
	if ep.URL != "" {
		password := ""
		if ep.Username != "" {
			var err error
			password, err = GetPassword()
			if err != nil {
				return nil, "", err
			}
		}

		conn, err := DialWebSocket(ctx, ep.URL, WebSocketOptions{
			Username:      ep.Username,
			Password:      password,
			SkipSSLVerify: ep.NoSSLVerify,
			TextWrites:    ep.TextWrites,
		})
		if err != nil {
			return nil, "", err
		}
		return conn, fmt.Sprintf("WebSocket: %s", ep.URL), nil
	}

	if ep.Port != "" {
		port, err := OpenSerialPort(ep.Port, ep.Baud, WithReadTimeout(ep.ReadTimeout))
		if err != nil {
			return nil, "", err
		}
		return port, fmt.Sprintf("Serial: %s @ %d baud", ep.Port, port.BaudRate()), nil
	}

	return nil, "", ErrNoEndpoint
}

// GetPassword reads the bridge password from TWESTAGE_PASSWORD or prompts
// for it without echo.
func GetPassword() (string, error) {
	if pw := os.Getenv(PasswordEnv); pw != "" {
		return pw, nil
	}

	fmt.Fprint(os.Stderr, "Password: ")

	passwordBytes, err := term.ReadPassword(int(os.Stdin.Fd()))
	if err != nil {
		// not a terminal
		reader := bufio.NewReader(os.Stdin)
		password, err := reader.ReadString('\n')
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		fmt.Fprintln(os.Stderr)
		return strings.TrimSpace(password), nil
	}

	fmt.Fprintln(os.Stderr)
	return string(passwordBytes), nil
}
