package errors

import (
	"errors"
	"fmt"
	"strings"
	"syscall"
)

// UserFriendlyError provides user-friendly error messages with context and hints
type UserFriendlyError struct {
	Message string
	Reason  string
	Hint    string
	Try     string
	Err     error
}

func (e UserFriendlyError) Error() string {
	var buf strings.Builder
	buf.WriteString(e.Message)
	if e.Reason != "" {
		buf.WriteString("\n  Reason: " + e.Reason)
	}
	if e.Hint != "" {
		buf.WriteString("\n  Hint: " + e.Hint)
	}
	if e.Try != "" {
		buf.WriteString("\n  Try: " + e.Try)
	}
	if e.Err != nil {
		buf.WriteString("\n  Details: " + e.Err.Error())
	}
	return buf.String()
}

func (e UserFriendlyError) Unwrap() error {
	return e.Err
}

// WrapConfigError wraps configuration errors with user-friendly context
func WrapConfigError(err error, configPath string) error {
	if err == nil {
		return nil
	}

	return UserFriendlyError{
		Message: fmt.Sprintf("Configuration error in %s", configPath),
		Reason:  err.Error(),
		Hint:    "Compare your file with the output of print-default-config",
		Try:     fmt.Sprintf("cipadapter validate-config --config %s", configPath),
		Err:     err,
	}
}

// WrapListenError wraps socket bind failures for the adapter ports
func WrapListenError(err error, ip string, tcpPort, ioPort int) error {
	if err == nil {
		return nil
	}

	return UserFriendlyError{
		Message: fmt.Sprintf("Failed to open adapter sockets on %s (encapsulation %d, I/O %d)", ip, tcpPort, ioPort),
		Reason:  extractListenReason(err),
		Hint:    "Another EtherNet/IP stack may already own these ports, or ports below 1024 need extra privileges",
		Try:     "Stop the other adapter, or set server.tcp_port / server.io_port to free ports",
		Err:     err,
	}
}

// WrapAPIError wraps failures reaching the adapter status API
func WrapAPIError(err error, url string) error {
	if err == nil {
		return nil
	}

	return UserFriendlyError{
		Message: fmt.Sprintf("Failed to query the adapter at %s", url),
		Reason:  extractNetworkReason(err),
		Hint:    "The adapter must run with api.enable set for status and watch to work",
		Try:     "cipadapter run --config <path> --api",
		Err:     err,
	}
}

func extractListenReason(err error) string {
	switch {
	case errors.Is(err, syscall.EADDRINUSE):
		return "Address already in use"
	case errors.Is(err, syscall.EACCES), errors.Is(err, syscall.EPERM):
		return "Permission denied"
	case errors.Is(err, syscall.EADDRNOTAVAIL):
		return "The listen address is not assigned to any local interface"
	}
	return "Socket setup failed"
}

func extractNetworkReason(err error) string {
	errStr := err.Error()

	// Common network error patterns
	if strings.Contains(errStr, "timeout") || strings.Contains(errStr, "deadline exceeded") {
		return "Connection timeout - adapter may be stopped or unreachable"
	}
	if strings.Contains(errStr, "connection refused") {
		return "Connection refused - the status API is not listening on this port"
	}
	if strings.Contains(errStr, "no route to host") {
		return "No route to host - network routing issue or host unreachable"
	}
	if strings.Contains(errStr, "connection reset") {
		return "Connection reset - the adapter closed the connection unexpectedly"
	}

	return "Network communication failed"
}
