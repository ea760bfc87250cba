package dto

type AuthResponse struct {
	Token string `json:"token"`
	User  any    `json:"user"`
}

type ErrorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

type SuccessResponse struct {
	OK   bool `json:"ok"`
	Data any  `json:"data,omitempty"`
}

// PaymentRequiredResponse is the 402 body. Reason carries the denial reason
// verbatim.
type PaymentRequiredResponse struct {
	Error           string `json:"error"`
	Reason          string `json:"reason"`
	TransactionHash string `json:"transaction_hash,omitempty"`
	GateEnabled     bool   `json:"gate_enabled"`
	RequestID       string `json:"request_id,omitempty"`
}
