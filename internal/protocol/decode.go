package protocol

import (
	"encoding/json"

	"github.com/xiaot623/gogo/locshare/internal/errs"
)

// decoders is the inbound allowlist. A type missing here is rejected as unknown.
var decoders = map[MessageType]func() Message{
	TypeJoin:                      func() Message { return &JoinMessage{} },
	TypeLocationUpdate:            func() Message { return &LocationMessage{Kind: TypeLocationUpdate} },
	TypeSingleParticipantUpdate:   func() Message { return &LocationMessage{Kind: TypeSingleParticipantUpdate} },
	TypeNameUpdate:                func() Message { return &NameUpdateMessage{} },
	TypeBackgroundStatusUpdate:    func() Message { return &BackgroundStatusMessage{} },
	TypeImmediateForegroundReturn: func() Message { return &ForegroundReturnMessage{} },
	TypeStopSharing:               func() Message { return &StopSharingMessage{} },
	TypeSyncStatus:                func() Message { return &SyncStatusMessage{} },
	TypeOffline:                   func() Message { return &OfflineMessage{} },
	TypeLeave:                     func() Message { return &LeaveMessage{} },
	TypePing:                      func() Message { return &PingMessage{} },
	TypeNotification:              func() Message { return &NotificationMessage{} },
	TypeChatMessage:               func() Message { return &ChatMessage{} },
	TypeTypingIndicator:           func() Message { return &TypingIndicatorMessage{} },
	TypeRequestChatHistory:        func() Message { return &ChatHistoryRequest{} },
	TypeMarkAsRead:                func() Message { return &MarkAsReadMessage{} },
	TypeStayReset:                 func() Message { return &StayResetMessage{} },
	TypeStayTimeUpdate:            func() Message { return &StayTimeUpdateMessage{} },
}

// Known reports whether t is an allowlisted inbound type.
func Known(t MessageType) bool {
	_, ok := decoders[t]
	return ok
}

// InboundTypes returns every allowlisted inbound type.
func InboundTypes() []MessageType {
	types := make([]MessageType, 0, len(decoders))
	for t := range decoders {
		types = append(types, t)
	}
	return types
}

// Decode parses a frame into its typed message. Every failure is a validation error.
func Decode(data []byte) (Message, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, errs.Validation("invalid JSON message")
	}
	if env.Type == "" {
		return nil, errs.Validation("message type is required")
	}

	newMessage, ok := decoders[env.Type]
	if !ok {
		return nil, errs.Validationf("unknown message type: %s", env.Type)
	}

	msg := newMessage()
	if err := json.Unmarshal(data, msg); err != nil {
		return nil, errs.Validationf("invalid %s message", env.Type)
	}
	return msg, nil
}
