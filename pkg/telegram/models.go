package telegram

import "encoding/json"

// Wire types for the subset of the Bot API the relay uses.

type apiResponse struct {
	OK          bool                `json:"ok"`
	Result      json.RawMessage     `json:"result,omitempty"`
	Description string              `json:"description,omitempty"`
	ErrorCode   int                 `json:"error_code,omitempty"`
	Parameters  *responseParameters `json:"parameters,omitempty"`
}

type responseParameters struct {
	RetryAfter int `json:"retry_after,omitempty"`
}

type update struct {
	UpdateID    int64       `json:"update_id"`
	Message     *apiMessage `json:"message,omitempty"`
	ChannelPost *apiMessage `json:"channel_post,omitempty"`
}

type apiMessage struct {
	MessageID int64        `json:"message_id"`
	Chat      apiChat      `json:"chat"`
	Date      int64        `json:"date"`
	Text      string       `json:"text,omitempty"`
	Caption   string       `json:"caption,omitempty"`
	Photo     []apiFile    `json:"photo,omitempty"`
	Video     *apiFile     `json:"video,omitempty"`
	Document  *apiFile     `json:"document,omitempty"`
	Voice     *apiFile     `json:"voice,omitempty"`
	Sticker   *apiFile     `json:"sticker,omitempty"`
}

type apiChat struct {
	ID       int64  `json:"id"`
	Username string `json:"username,omitempty"`
	Title    string `json:"title,omitempty"`
}

type apiFile struct {
	FileID string `json:"file_id"`
}

type getUpdatesRequest struct {
	Offset         int64    `json:"offset,omitempty"`
	Timeout        int      `json:"timeout,omitempty"`
	AllowedUpdates []string `json:"allowed_updates,omitempty"`
}

type sendMessageRequest struct {
	ChatID string `json:"chat_id"`
	Text   string `json:"text"`
}

type copyMessageRequest struct {
	ChatID     string `json:"chat_id"`
	FromChatID string `json:"from_chat_id"`
	MessageID  int64  `json:"message_id"`
}
