package message

import "time"

// QueryParams is the generic filtered history query. Nil pointers mean
// "no constraint". Results are always newest first.
type QueryParams struct {
	SenderID   *int64     `json:"senderId,omitempty"`
	ReceiverID *int64     `json:"receiverId,omitempty"`
	Kind       *Kind      `json:"messageType,omitempty"`
	From       *time.Time `json:"from,omitempty"`
	To         *time.Time `json:"to,omitempty"`
	Page       int        `json:"page"`
	Size       int        `json:"size"`
}

// ChatSummary is one entry of the recent-chats projection: the last
// message exchanged with a peer or inside a group.
type ChatSummary struct {
	PeerID      int64   `json:"peerId"`
	Kind        Kind    `json:"messageType"`
	LastMessage Message `json:"lastMessage"`
}
