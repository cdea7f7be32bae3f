package escrow

import "fmt"

// EscrowRecord is the per-task state that lives at RecordAddress(task_id).
type EscrowRecord struct {
	Authority     Pubkey  `json:"authority"`
	TaskID        TaskID  `json:"task_id"`
	BountyAmount  uint64  `json:"bounty_amount"`
	TaskHash      Hash    `json:"task_hash"`
	Status        Status  `json:"status"`
	AssignedAgent *Pubkey `json:"assigned_agent,omitempty"`
	WorkHash      *Hash   `json:"work_hash,omitempty"`
	CreatedAt     int64   `json:"created_at"`
	ClaimedAt     *int64  `json:"claimed_at,omitempty"`
	SubmittedAt   *int64  `json:"submitted_at,omitempty"`
	Bump          uint8   `json:"bump"`
}

// Validate checks that the optional fields agree with the status.
func (r *EscrowRecord) Validate() error {
	if !r.Status.Valid() {
		return fmt.Errorf("%w: unknown status %d", ErrInvalidRecord, uint8(r.Status))
	}
	agent := r.AssignedAgent != nil
	work := r.WorkHash != nil
	claimed := r.ClaimedAt != nil
	submitted := r.SubmittedAt != nil

	var ok bool
	switch r.Status {
	case StatusOpen:
		ok = !agent && !work && !claimed && !submitted
	case StatusClaimed:
		ok = agent && claimed && !work && !submitted
	case StatusSubmitted, StatusCompleted:
		ok = agent && claimed && work && submitted
	case StatusCancelled:
		ok = !agent && !work
	case StatusDisputed:
		ok = agent
	}
	if !ok {
		return fmt.Errorf("%w: status %s with agent=%t work=%t claimed_at=%t submitted_at=%t",
			ErrInvalidRecord, r.Status, agent, work, claimed, submitted)
	}
	return nil
}

// Clone returns a deep copy; stores hand out clones so callers never share
// optional-field pointers with committed state.
func (r *EscrowRecord) Clone() *EscrowRecord {
	if r == nil {
		return nil
	}
	c := *r
	if r.AssignedAgent != nil {
		v := *r.AssignedAgent
		c.AssignedAgent = &v
	}
	if r.WorkHash != nil {
		v := *r.WorkHash
		c.WorkHash = &v
	}
	if r.ClaimedAt != nil {
		v := *r.ClaimedAt
		c.ClaimedAt = &v
	}
	if r.SubmittedAt != nil {
		v := *r.SubmittedAt
		c.SubmittedAt = &v
	}
	return &c
}

// signer mints the derived authority that controls this record's vault.
func (r *EscrowRecord) signer() Authority {
	id := r.TaskID
	return derivedSigner{seeds: [][]byte{escrowSeed, id[:], {r.Bump}}}
}

// ReputationRecord is a declared per-wallet account. No operation in this
// program creates, reads or writes one.
type ReputationRecord struct {
	Wallet         Pubkey `json:"wallet"`
	TasksCompleted uint64 `json:"tasks_completed"`
	TasksFailed    uint64 `json:"tasks_failed"`
	TotalEarnings  uint64 `json:"total_earnings"`
	AverageRating  uint16 `json:"average_rating"`
	StakeAmount    uint64 `json:"stake_amount"`
	RegisteredAt   int64  `json:"registered_at"`
	Bump           uint8  `json:"bump"`
}

// TokenAccount is a holding account on the token ledger.
type TokenAccount struct {
	Address Pubkey `json:"address"`
	Owner   Pubkey `json:"owner"`
	Amount  uint64 `json:"amount"`
}
