package ledger

// Ledger node HTTP paths.
const (
	getPath       = "/v1/ledger/get"
	setPath       = "/v1/ledger/set"
	txStatusPath  = "/v1/ledger/tx"
	availablePath = "/v1/ledger/available"
)

// Paths exposes the node routes so a server can mount them.
var Paths = struct {
	Get, Set, TxStatus, Available string
}{getPath, setPath, txStatusPath, availablePath}

// TxStatus is the confirmation state of a submitted write.
type TxStatus string

const (
	TxPending   TxStatus = "pending"
	TxConfirmed TxStatus = "confirmed"
	TxRejected  TxStatus = "rejected"
	TxFailed    TxStatus = "failed"
)

// GetRequest asks for the value of Key.
type GetRequest struct {
	Key string `json:"key"`
}

// GetResponse carries the value; []byte is base64 in JSON. Empty when absent.
type GetResponse struct {
	Value []byte `json:"value"`
}

// SetRequest submits a value-replacing write.
type SetRequest struct {
	Key   string `json:"key"`
	Value []byte `json:"value"`
}

// SetResponse acknowledges submission, not confirmation.
type SetResponse struct {
	TxHash string `json:"txHash"`
}

// TxRequest polls the status of a submitted write.
type TxRequest struct {
	TxHash string `json:"txHash"`
}

// TxResponse reports the status of a submitted write.
type TxResponse struct {
	TxHash string   `json:"txHash"`
	Key    string   `json:"key,omitempty"`
	Status TxStatus `json:"status"`
	Error  string   `json:"error,omitempty"`
	// ConfirmedAt is Unix milliseconds, zero while pending.
	ConfirmedAt int64 `json:"confirmedAt,omitempty"`
}

// AvailableResponse answers the liveness probe.
type AvailableResponse struct {
	Available bool `json:"available"`
}
