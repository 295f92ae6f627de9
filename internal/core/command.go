package core

import "github.com/vovakirdan/wirerelay-server/internal/proto"

// CommandKind describes what the client wants to do.
type CommandKind int

const (
	// CommandChat broadcasts the payload to every client.
	CommandChat CommandKind = iota
	// CommandQuit ends the session.
	CommandQuit
	// CommandReadyForVideo switches the session into bulk relay mode.
	CommandReadyForVideo
	// CommandCallInitiate is acknowledged by echoing it back.
	CommandCallInitiate
	// CommandCallStart begins call negotiation as the initiator.
	CommandCallStart
	// CommandCallAccept answers an invitation positively; a target handle follows.
	CommandCallAccept
	// CommandCallReject answers an invitation negatively; a target handle follows.
	CommandCallReject
	// CommandCallAbort cancels a negotiation. Outside negotiation it is ignored.
	CommandCallAbort
)

func (k CommandKind) String() string {
	switch k {
	case CommandChat:
		return "chat"
	case CommandQuit:
		return "quit"
	case CommandReadyForVideo:
		return "ready_for_video"
	case CommandCallInitiate:
		return "call_initiate"
	case CommandCallStart:
		return "call_start"
	case CommandCallAccept:
		return "call_accept"
	case CommandCallReject:
		return "call_reject"
	case CommandCallAbort:
		return "call_abort"
	default:
		return "unknown"
	}
}

// Command represents an action requested by a client.
type Command struct {
	Kind CommandKind
	Text string
}

// ParseCommand classifies a text payload. Only exact literals are commands;
// everything else is chat.
func ParseCommand(payload []byte) Command {
	text := string(payload)
	kind := CommandChat
	switch text {
	case proto.Quit:
		kind = CommandQuit
	case proto.ReadyForVideoCall:
		kind = CommandReadyForVideo
	case proto.VideoCallInitiate:
		kind = CommandCallInitiate
	case proto.VideoCallStart:
		kind = CommandCallStart
	case proto.VideoCallAccept:
		kind = CommandCallAccept
	case proto.VideoCallRejected:
		kind = CommandCallReject
	case proto.VideoCallAbort:
		kind = CommandCallAbort
	}
	return Command{Kind: kind, Text: text}
}
