// Package websockettest dials websocket endpoints served by httptest servers.
package websockettest

import (
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
)

// URL converts an httptest server URL into its websocket form.
func URL(serverURL, path string) string {
	return "ws" + strings.TrimPrefix(serverURL, "http") + path
}

// Dial connects with the default dialer.
func Dial(urlStr string, header http.Header) (*websocket.Conn, *http.Response, error) {
	return websocket.DefaultDialer.Dial(urlStr, header)
}

// DialIgnoringPongs connects and disables the automatic ping replies so tests
// can simulate an unresponsive peer.
func DialIgnoringPongs(urlStr string, header http.Header) (*websocket.Conn, *http.Response, error) {
	conn, resp, err := Dial(urlStr, header)
	if err != nil {
		return nil, resp, err
	}
	conn.SetPingHandler(func(string) error { return nil })
	conn.SetPongHandler(func(string) error { return nil })
	return conn, resp, nil
}
