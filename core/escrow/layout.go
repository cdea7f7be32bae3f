package escrow

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
)

const (
	EscrowRecordSize     = 8 + 32 + 32 + 8 + 32 + 1 + 33 + 33 + 8 + 9 + 9 + 1
	ReputationRecordSize = 8 + 32 + 8 + 8 + 8 + 2 + 8 + 8 + 1
)

var (
	escrowDiscriminator     = discriminator("TaskEscrow")
	reputationDiscriminator = discriminator("AgentReputation")
)

func discriminator(name string) [8]byte {
	sum := sha256.Sum256([]byte("account:" + name))
	var d [8]byte
	copy(d[:], sum[:8])
	return d
}

type encoder struct {
	buf []byte
}

func (e *encoder) bytes(b []byte) { e.buf = append(e.buf, b...) }
func (e *encoder) u8(v uint8)     { e.buf = append(e.buf, v) }
func (e *encoder) u16(v uint16)   { e.buf = binary.LittleEndian.AppendUint16(e.buf, v) }
func (e *encoder) u64(v uint64)   { e.buf = binary.LittleEndian.AppendUint64(e.buf, v) }
func (e *encoder) i64(v int64)    { e.u64(uint64(v)) }

func (e *encoder) optKey(k *Pubkey) {
	if k == nil {
		e.u8(0)
		e.bytes(make([]byte, 32))
		return
	}
	e.u8(1)
	e.bytes(k[:])
}

func (e *encoder) optHash(h *Hash) {
	if h == nil {
		e.u8(0)
		e.bytes(make([]byte, 32))
		return
	}
	e.u8(1)
	e.bytes(h[:])
}

func (e *encoder) optI64(v *int64) {
	if v == nil {
		e.u8(0)
		e.u64(0)
		return
	}
	e.u8(1)
	e.i64(*v)
}

type decoder struct {
	buf []byte
	off int
	err error
}

func (d *decoder) next(n int) []byte {
	b := d.buf[d.off : d.off+n]
	d.off += n
	return b
}

func (d *decoder) fail(format string, args ...any) {
	if d.err == nil {
		d.err = fmt.Errorf("%w: "+format, append([]any{ErrInvalidLayout}, args...)...)
	}
}

func (d *decoder) u8() uint8   { return d.next(1)[0] }
func (d *decoder) u16() uint16 { return binary.LittleEndian.Uint16(d.next(2)) }
func (d *decoder) u64() uint64 { return binary.LittleEndian.Uint64(d.next(8)) }
func (d *decoder) i64() int64  { return int64(d.u64()) }

func (d *decoder) key() Pubkey {
	var k Pubkey
	copy(k[:], d.next(32))
	return k
}

func (d *decoder) hash() Hash {
	var h Hash
	copy(h[:], d.next(32))
	return h
}

// tag reads an option tag and reports whether the payload is present. A None
// payload of n bytes must be all zero.
func (d *decoder) tag(field string, n int) bool {
	t := d.u8()
	switch t {
	case 0:
		for _, b := range d.buf[d.off : d.off+n] {
			if b != 0 {
				d.fail("%s: non-zero padding under None", field)
				break
			}
		}
		d.off += n
		return false
	case 1:
		return true
	default:
		d.fail("%s: invalid option tag %d", field, t)
		d.off += n
		return false
	}
}

func (d *decoder) optKey(field string) *Pubkey {
	if !d.tag(field, 32) {
		return nil
	}
	k := d.key()
	return &k
}

func (d *decoder) optHash(field string) *Hash {
	if !d.tag(field, 32) {
		return nil
	}
	h := d.hash()
	return &h
}

func (d *decoder) optI64(field string) *int64 {
	if !d.tag(field, 8) {
		return nil
	}
	v := d.i64()
	return &v
}

// MarshalBinary encodes the record in its fixed 206-byte account layout.
func (r *EscrowRecord) MarshalBinary() ([]byte, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	e := encoder{buf: make([]byte, 0, EscrowRecordSize)}
	e.bytes(escrowDiscriminator[:])
	e.bytes(r.Authority[:])
	e.bytes(r.TaskID[:])
	e.u64(r.BountyAmount)
	e.bytes(r.TaskHash[:])
	e.u8(uint8(r.Status))
	e.optKey(r.AssignedAgent)
	e.optHash(r.WorkHash)
	e.i64(r.CreatedAt)
	e.optI64(r.ClaimedAt)
	e.optI64(r.SubmittedAt)
	e.u8(r.Bump)
	return e.buf, nil
}

func (r *EscrowRecord) UnmarshalBinary(data []byte) error {
	if len(data) != EscrowRecordSize {
		return fmt.Errorf("%w: escrow record is %d bytes, want %d", ErrInvalidLayout, len(data), EscrowRecordSize)
	}
	d := decoder{buf: data}
	if disc := d.next(8); string(disc) != string(escrowDiscriminator[:]) {
		return fmt.Errorf("%w: escrow record discriminator mismatch", ErrInvalidLayout)
	}
	var out EscrowRecord
	out.Authority = d.key()
	copy(out.TaskID[:], d.next(32))
	out.BountyAmount = d.u64()
	out.TaskHash = d.hash()
	out.Status = Status(d.u8())
	if !out.Status.Valid() {
		d.fail("unknown status %d", uint8(out.Status))
	}
	out.AssignedAgent = d.optKey("assigned_agent")
	out.WorkHash = d.optHash("work_hash")
	out.CreatedAt = d.i64()
	out.ClaimedAt = d.optI64("claimed_at")
	out.SubmittedAt = d.optI64("submitted_at")
	out.Bump = d.u8()
	if d.err != nil {
		return d.err
	}
	*r = out
	return nil
}

// DecodeEscrowRecord decodes and validates a stored record.
func DecodeEscrowRecord(data []byte) (*EscrowRecord, error) {
	r := new(EscrowRecord)
	if err := r.UnmarshalBinary(data); err != nil {
		return nil, err
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *ReputationRecord) MarshalBinary() ([]byte, error) {
	e := encoder{buf: make([]byte, 0, ReputationRecordSize)}
	e.bytes(reputationDiscriminator[:])
	e.bytes(r.Wallet[:])
	e.u64(r.TasksCompleted)
	e.u64(r.TasksFailed)
	e.u64(r.TotalEarnings)
	e.u16(r.AverageRating)
	e.u64(r.StakeAmount)
	e.i64(r.RegisteredAt)
	e.u8(r.Bump)
	return e.buf, nil
}

func (r *ReputationRecord) UnmarshalBinary(data []byte) error {
	if len(data) != ReputationRecordSize {
		return fmt.Errorf("%w: reputation record is %d bytes, want %d", ErrInvalidLayout, len(data), ReputationRecordSize)
	}
	d := decoder{buf: data}
	if disc := d.next(8); string(disc) != string(reputationDiscriminator[:]) {
		return fmt.Errorf("%w: reputation record discriminator mismatch", ErrInvalidLayout)
	}
	r.Wallet = d.key()
	r.TasksCompleted = d.u64()
	r.TasksFailed = d.u64()
	r.TotalEarnings = d.u64()
	r.AverageRating = d.u16()
	r.StakeAmount = d.u64()
	r.RegisteredAt = d.i64()
	r.Bump = d.u8()
	return nil
}
