package models

// ConnectionStatus backs the connection indicator. Connected is true while
// any push channel is connected.
type ConnectionStatus struct {
	Connected bool              `json:"connected"`
	Streams   map[string]string `json:"streams"`
}
