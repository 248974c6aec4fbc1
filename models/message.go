package models

// ChatMessage is one prior turn of the conversation, supplied by the client
// with each request. Role is "user" or "model".
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}
