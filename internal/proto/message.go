// Package proto holds the text-protocol literals exchanged with relay clients
// and the helpers that build and parse composite messages.
package proto

import (
	"fmt"
	"strings"
)

// Registration replies.
const (
	UsernameAvailable   = "USERNAME_AVAILABLE"
	UsernameUnavailable = "USERNAME_UNAVAILABLE"
)

// Commands and signals of the text channel.
const (
	Quit              = "QUIT"
	ReadyForVideoCall = "READY_FOR_VIDEO_CALL"
	VideoCallInitiate = "VIDEO_CALL_INITIATE"
	VideoCallStart    = "VIDEO_CALL_START"
	VideoCallAbort    = "VIDEO_CALL_ABORT"
	VideoCallAccept   = "VIDEO_CALL_ACCEPT"
	VideoCallRejected = "VIDEO_CALL_REJECTED"
	VideoCallRequest  = "VIDEO_CALL_REQUEST"

	// Hangup is sent to the remaining party when its peer ends the call.
	Hangup = "-2"
)

// ListSeparator separates handles in the availability list and the call request.
// Handles must not contain it.
const ListSeparator = "$"

// ChatLine formats a chat message as broadcast to every client.
func ChatLine(handle, text string) string {
	return fmt.Sprintf("%s: %s", handle, text)
}

// Departure formats the notice broadcast when a client leaves.
func Departure(handle string) string {
	return fmt.Sprintf("Client %s has left the conversation", handle)
}

// CallRequest formats the invitation delivered to a call target.
func CallRequest(initiator string) string {
	return VideoCallRequest + ListSeparator + initiator
}

// ParseCallRequest extracts the initiator handle from a call invitation.
func ParseCallRequest(msg string) (string, bool) {
	initiator, ok := strings.CutPrefix(msg, VideoCallRequest+ListSeparator)
	if !ok || initiator == "" {
		return "", false
	}
	return initiator, true
}

// HandleList encodes handles as a separator-joined list with a trailing
// separator. An empty list encodes as the empty string.
func HandleList(handles []string) string {
	var sb strings.Builder
	for _, h := range handles {
		sb.WriteString(h)
		sb.WriteString(ListSeparator)
	}
	return sb.String()
}

// ParseHandleList decodes the output of HandleList.
func ParseHandleList(msg string) []string {
	if msg == "" {
		return nil
	}
	return strings.Split(strings.TrimSuffix(msg, ListSeparator), ListSeparator)
}
