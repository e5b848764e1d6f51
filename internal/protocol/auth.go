package protocol

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// AuthEmployee identifies the employee presenting credentials.
type AuthEmployee struct {
	ID   string `json:"employeeID"`
	Name string `json:"employeeName"`
}

// Credentials is the JSON document an authentication request carries.
type Credentials struct {
	Employee AuthEmployee `json:"authEmployee"`
	Secret   string       `json:"authSecret"`
}

// EncodeCredentials renders the credentials document.
func EncodeCredentials(c Credentials) (string, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("protocol: encode credentials: %w", err)
	}
	return string(data), nil
}

// DecodeCredentials parses the credentials document.
func DecodeCredentials(doc string) (Credentials, error) {
	var c Credentials
	if err := json.Unmarshal([]byte(doc), &c); err != nil {
		return Credentials{}, fmt.Errorf("protocol: decode credentials: %w", err)
	}
	return c, nil
}

// Acknowledgment payloads for create, update, and delete responses.
const (
	AckSuccess = "true"
	AckFailure = "false"
)

// EncodeAck renders a mutation acknowledgment.
func EncodeAck(ok bool) string {
	if ok {
		return AckSuccess
	}
	return AckFailure
}

// DecodeAck interprets a mutation acknowledgment. Anything but the success
// payload is a failure.
func DecodeAck(payload string) bool {
	return payload == AckSuccess
}

// AuthFailure is the payload of a rejected authentication response.
const AuthFailure = "false"

// EncodeAuthSuccess renders the accepted response payload: the push channel
// port the client should listen on.
func EncodeAuthSuccess(pushPort int) string {
	return strconv.Itoa(pushPort)
}

// DecodeAuthResponse interprets an authentication response payload. Any
// payload that is not a valid port number is a rejection.
func DecodeAuthResponse(payload string) (pushPort int, ok bool) {
	port, err := strconv.Atoi(payload)
	if err != nil || port <= 0 || port > 65535 {
		return 0, false
	}
	return port, true
}
