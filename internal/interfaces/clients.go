// -----------------------------------------------------------------------
// External client capability sets consumed by stage handlers and workers.
// Concrete implementations live in internal/clients; tests inject fakes.
// -----------------------------------------------------------------------

package interfaces

import "context"

// DAVerificationStatus is the inclusion state of published DA blobs.
type DAVerificationStatus string

const (
	DAVerificationPending  DAVerificationStatus = "Pending"
	DAVerificationVerified DAVerificationStatus = "Verified"
	DAVerificationRejected DAVerificationStatus = "Rejected"
)

// DAClient publishes state diffs to the data-availability layer.
type DAClient interface {
	// PublishStateDiff submits the blobs of one block's state diff and
	// returns the external handle used for inclusion polling.
	PublishStateDiff(ctx context.Context, blobs [][]byte) (string, error)
	// VerifyInclusion polls the DA layer for the submission.
	VerifyInclusion(ctx context.Context, externalID string) (DAVerificationStatus, error)
	// MaxBlobPerTxn is the DA layer's blob count limit per submission.
	MaxBlobPerTxn() int
	// MaxBytesPerBlob is the DA layer's size limit per blob.
	MaxBytesPerBlob() int
}

// ProverTaskStatus is the prover-side state of a submitted task.
type ProverTaskStatus string

const (
	ProverTaskProcessing ProverTaskStatus = "Processing"
	ProverTaskSucceeded  ProverTaskStatus = "Succeeded"
	ProverTaskFailed     ProverTaskStatus = "Failed"
)

// ProverClient submits proving tasks and polls their status.
type ProverClient interface {
	SubmitTask(ctx context.Context, programOutput []byte) (string, error)
	GetTaskStatus(ctx context.Context, taskID string) (ProverTaskStatus, error)
	// FetchProof downloads the proof artifact of a succeeded task.
	FetchProof(ctx context.Context, taskID string) ([]byte, error)
}

// SettlementVerificationStatus is the settlement-side state of a transaction.
type SettlementVerificationStatus string

const (
	SettlementTxPending  SettlementVerificationStatus = "Pending"
	SettlementTxVerified SettlementVerificationStatus = "Verified"
	SettlementTxRejected SettlementVerificationStatus = "Rejected"
)

// StateUpdatePayload carries the settlement input for one state transition.
// Exactly one of OnchainData or KZGProof is set: calldata-DA settlements carry
// the onchain data, blob-DA settlements carry the KZG proof.
type StateUpdatePayload struct {
	ProgramOutput   [][]byte
	OnchainData     []byte
	OnchainDataSize uint64
	KZGProof        []byte
}

// SettlementClient finalizes state transitions and registers proofs on L1.
type SettlementClient interface {
	// UpdateState settles a calldata-DA state transition and returns the tx hash.
	UpdateState(ctx context.Context, programOutput [][]byte, onchainData []byte, onchainDataSize uint64) (string, error)
	// UpdateStateKZG settles a blob-DA state transition and returns the tx hash.
	UpdateStateKZG(ctx context.Context, programOutput [][]byte, kzgProof []byte) (string, error)
	// RegisterProof registers a generated proof and returns the tx hash.
	RegisterProof(ctx context.Context, proof []byte) (string, error)
	// VerifyTxInclusion polls a previously submitted transaction.
	VerifyTxInclusion(ctx context.Context, txHash string) (SettlementVerificationStatus, error)
}

// StorageEntry is one storage slot write inside a contract state diff.
type StorageEntry struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// ContractStateDiff is the per-contract portion of a block state update.
type ContractStateDiff struct {
	Address        string         `json:"address"`
	StorageEntries []StorageEntry `json:"storage_entries"`
	Nonce          string         `json:"nonce,omitempty"`
	ClassHash      string         `json:"class_hash,omitempty"`
}

// StateUpdate is the chain's state diff for one block. Pending blocks have
// no block hash yet and are not eligible for submission.
type StateUpdate struct {
	BlockNumber uint64              `json:"block_number"`
	BlockHash   string              `json:"block_hash"`
	NewRoot     string              `json:"new_root"`
	OldRoot     string              `json:"old_root"`
	Pending     bool                `json:"pending"`
	StateDiff   []ContractStateDiff `json:"state_diff"`
}

// ChainClient is the upstream rollup RPC consumed by SNOS discovery and the
// DA handler.
type ChainClient interface {
	// BlockNumber returns the latest block number at the tip.
	BlockNumber(ctx context.Context) (uint64, error)
	// GetStateUpdate returns the state diff for a block.
	GetStateUpdate(ctx context.Context, blockNumber uint64) (*StateUpdate, error)
	// GetNonce returns the current nonce of a contract.
	GetNonce(ctx context.Context, contractAddress string) (uint64, error)
}
