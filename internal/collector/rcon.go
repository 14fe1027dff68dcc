package collector

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
)

// FXServer keeps the Quake 3 out-of-band rcon protocol
const (
	oobHeader   = "\xff\xff\xff\xff"
	rconPrefix  = oobHeader + "rcon "
	printPrefix = oobHeader + "print"
	rconTimeout = 3 * time.Second
	maxResponse = 65535
)

// RconClient sends rcon commands over UDP
type RconClient struct {
	// ReadWindow is how long to wait for further packets of a long reply
	ReadWindow time.Duration
}

// NewRconClient creates a new rcon client
func NewRconClient() *RconClient {
	return &RconClient{ReadWindow: 500 * time.Millisecond}
}

// Command sends an rcon command to a server and returns the response
func (c *RconClient) Command(address, password, command string) (string, error) {
	if strings.ContainsAny(command, "\n\r") {
		return "", errors.New("command must be a single line")
	}

	conn, err := net.DialTimeout("udp", address, rconTimeout)
	if err != nil {
		return "", fmt.Errorf("connecting to %s: %w", address, err)
	}
	defer conn.Close()

	// Format: \xff\xff\xff\xffrcon <password> <command>
	request := fmt.Sprintf("%s%s %s", rconPrefix, password, command)
	if _, err := conn.Write([]byte(request)); err != nil {
		return "", fmt.Errorf("sending rcon command: %w", err)
	}

	// Read response (may come in multiple packets for long output)
	var response strings.Builder
	buf := make([]byte, maxResponse)
	deadline := rconTimeout

	for {
		conn.SetReadDeadline(time.Now().Add(deadline))
		n, err := conn.Read(buf)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				if response.Len() == 0 {
					return "", fmt.Errorf("no response from %s", address)
				}
				break // No more data
			}
			if response.Len() > 0 {
				break
			}
			return "", fmt.Errorf("reading response: %w", err)
		}

		data := string(buf[:n])
		if rest, ok := strings.CutPrefix(data, printPrefix); ok {
			// FXServer sends "print " while Quake servers send "print\n"
			rest = strings.TrimPrefix(rest, "\n")
			rest = strings.TrimPrefix(rest, " ")
			response.WriteString(rest)
		}
		deadline = c.ReadWindow
	}

	out := response.String()
	if strings.Contains(out, "Invalid password") {
		return "", errors.New("rcon password rejected")
	}
	return out, nil
}
