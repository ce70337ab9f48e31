package common

const (
	ShieldingKeyPath = "/shielding_key"
	StatePath        = "/state"
	HealthPath       = "/healthz"
)

type ShieldingKeyRequest struct {
	Nonce string `json:"nonce"`
}

type ShieldingKeyResponse struct {
	Nonce          string   `json:"nonce"`
	PublicKey      []byte   `json:"public_key"`
	MrEnclave      string   `json:"mrenclave"`
	Shards         []string `json:"shards"`
	AttestationJWT string   `json:"attestation_jwt,omitempty"`
}

type StateRequest struct {
	Getter string `json:"getter"`
	Shard  string `json:"shard"`
}

type StateResponse struct {
	Value string `json:"value"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
