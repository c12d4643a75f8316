package ws

// ClientMsg representa uma mensagem recebida do cliente WebSocket
// Type: subscribe | unsubscribe | ping
// Player: obrigatório para subscribe/unsubscribe
type ClientMsg struct {
	Type   string `json:"type"`
	Player string `json:"player"`
}
