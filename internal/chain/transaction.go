package chain

import (
	"encoding/binary"
	"fmt"

	flatbuffers "github.com/google/flatbuffers/go"
	"github.com/xssnick/tonutils-go/address"
	"github.com/xssnick/tonutils-go/tvm/cell"
	"github.com/zeebo/blake3"

	"NFTForge/internal/stateinit"
	"NFTForge/internal/types"
)

// Message is a message entering the ledger or produced by a contract.
type Message struct {
	From     *address.Address     // From is nil for external messages
	To       *address.Address     // To is the destination account
	Value    uint64               // Value is credited to the destination before compute
	Body     *cell.Cell           // Body may be nil
	Init     *stateinit.StateInit // Init deploys To when it does not exist
	External bool                 // External marks a message without a sender account
}

// OutMessage is a message emitted by a transaction.
type OutMessage struct {
	To    *address.Address
	Value uint64
	Body  *cell.Cell
	Init  *stateinit.StateInit
}

// Transaction records the processing of one message by one account.
type Transaction struct {
	Hash        [32]byte
	LT          uint64
	From        *address.Address
	To          *address.Address
	Value       uint64
	External    bool
	Deploy      bool  // Deploy is set when the message created the account
	Success     bool  // Success is set when the compute phase exited with code 0
	Aborted     bool  // Aborted is set when no compute phase ran
	ExitCode    int32 // ExitCode of the compute phase, 0 on success
	Body        *cell.Cell
	InitCode    *cell.Cell
	InitData    *cell.Cell
	Out         []OutMessage
	Attestation []byte // Attestation is the node signature over Hash, if any
}

// Op returns the 32-bit opcode of the inbound body, or false for an empty body.
func (tx *Transaction) Op() (uint32, bool) {
	return bodyOp(tx.Body)
}

func bodyOp(body *cell.Cell) (uint32, bool) {
	if body == nil || body.BitsSize() < 32 {
		return 0, false
	}

	op, err := body.BeginParse().LoadUInt(32)
	if err != nil {
		return 0, false
	}

	return uint32(op), true
}

// computeHash returns the blake3 hash of the canonical transaction record.
// Format: lt(8) + from + to + value(8) + flags(1) + exit(4) + body + init + outs,
// addresses as 33-byte keys (zero for none) and cells as representation hashes.
func computeHash(tx *Transaction) [32]byte {
	h := blake3.New()

	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], tx.LT)
	h.Write(buf[:])

	writeAddr(h, tx.From)
	writeAddr(h, tx.To)

	binary.BigEndian.PutUint64(buf[:], tx.Value)
	h.Write(buf[:])

	var flags byte
	for i, f := range []bool{tx.External, tx.Deploy, tx.Success, tx.Aborted} {
		if f {
			flags |= 1 << i
		}
	}
	h.Write([]byte{flags})

	binary.BigEndian.PutUint32(buf[:4], uint32(tx.ExitCode))
	h.Write(buf[:4])

	writeCell(h, tx.Body)
	writeCell(h, tx.InitCode)
	writeCell(h, tx.InitData)

	binary.BigEndian.PutUint32(buf[:4], uint32(len(tx.Out)))
	h.Write(buf[:4])

	for _, out := range tx.Out {
		writeAddr(h, out.To)
		binary.BigEndian.PutUint64(buf[:], out.Value)
		h.Write(buf[:])
		writeCell(h, out.Body)
	}

	var sum [32]byte
	h.Sum(sum[:0])

	return sum
}

func writeAddr(h *blake3.Hasher, a *address.Address) {
	k, _ := stateinit.Key(a)
	h.Write(k[:])
}

func writeCell(h *blake3.Hasher, c *cell.Cell) {
	if c == nil {
		h.Write(make([]byte, 32))
		return
	}

	h.Write(c.Hash())
}

// txKey returns the storage key of a transaction.
func txKey(hash [32]byte) []byte {
	return append(append([]byte{}, prefixTx...), hash[:]...)
}

// EncodeTransaction serializes tx as a types.Transaction flatbuffer.
func EncodeTransaction(tx *Transaction) []byte {
	builder := flatbuffers.NewBuilder(1024)

	outOffsets := make([]flatbuffers.UOffsetT, len(tx.Out))
	for i, out := range tx.Out {
		toVec := builder.CreateByteVector(addrBytes(out.To))
		bodyVec := builder.CreateByteVector(bocBytes(out.Body))

		var codeVec, dataVec flatbuffers.UOffsetT
		if out.Init != nil {
			codeVec = builder.CreateByteVector(bocBytes(out.Init.Code))
			dataVec = builder.CreateByteVector(bocBytes(out.Init.Data))
		}

		types.OutMessageStart(builder)
		types.OutMessageAddTo(builder, toVec)
		types.OutMessageAddValue(builder, out.Value)
		types.OutMessageAddBody(builder, bodyVec)
		if out.Init != nil {
			types.OutMessageAddInitCode(builder, codeVec)
			types.OutMessageAddInitData(builder, dataVec)
		}
		outOffsets[i] = types.OutMessageEnd(builder)
	}

	types.TransactionStartOutVector(builder, len(outOffsets))
	for i := len(outOffsets) - 1; i >= 0; i-- {
		builder.PrependUOffsetT(outOffsets[i])
	}
	outVec := builder.EndVector(len(outOffsets))

	hashVec := builder.CreateByteVector(tx.Hash[:])
	fromVec := builder.CreateByteVector(addrBytes(tx.From))
	toVec := builder.CreateByteVector(addrBytes(tx.To))
	bodyVec := builder.CreateByteVector(bocBytes(tx.Body))
	codeVec := builder.CreateByteVector(bocBytes(tx.InitCode))
	dataVec := builder.CreateByteVector(bocBytes(tx.InitData))
	attVec := builder.CreateByteVector(tx.Attestation)

	types.TransactionStart(builder)
	types.TransactionAddHash(builder, hashVec)
	types.TransactionAddLt(builder, tx.LT)
	types.TransactionAddFrom(builder, fromVec)
	types.TransactionAddTo(builder, toVec)
	types.TransactionAddValue(builder, tx.Value)
	types.TransactionAddExternal(builder, tx.External)
	types.TransactionAddDeploy(builder, tx.Deploy)
	types.TransactionAddSuccess(builder, tx.Success)
	types.TransactionAddAborted(builder, tx.Aborted)
	types.TransactionAddExitCode(builder, tx.ExitCode)
	types.TransactionAddBody(builder, bodyVec)
	types.TransactionAddInitCode(builder, codeVec)
	types.TransactionAddInitData(builder, dataVec)
	types.TransactionAddOut(builder, outVec)
	types.TransactionAddAttestation(builder, attVec)
	builder.Finish(types.TransactionEnd(builder))

	return builder.FinishedBytes()
}

// DecodeTransaction parses a types.Transaction flatbuffer.
func DecodeTransaction(buf []byte) (*Transaction, error) {
	fb := types.GetRootAsTransaction(buf, 0)

	tx := &Transaction{
		LT:       fb.Lt(),
		Value:    fb.Value(),
		External: fb.External(),
		Deploy:   fb.Deploy(),
		Success:  fb.Success(),
		Aborted:  fb.Aborted(),
		ExitCode: fb.ExitCode(),
	}

	if len(fb.HashBytes()) != 32 {
		return nil, fmt.Errorf("invalid transaction hash length %d", len(fb.HashBytes()))
	}
	copy(tx.Hash[:], fb.HashBytes())

	var err error
	if tx.From, err = parseAddrBytes(fb.FromBytes()); err != nil {
		return nil, fmt.Errorf("decode sender:\n%w", err)
	}
	if tx.To, err = parseAddrBytes(fb.ToBytes()); err != nil {
		return nil, fmt.Errorf("decode destination:\n%w", err)
	}
	if tx.Body, err = parseBOC(fb.BodyBytes()); err != nil {
		return nil, fmt.Errorf("decode body:\n%w", err)
	}
	if tx.InitCode, err = parseBOC(fb.InitCodeBytes()); err != nil {
		return nil, fmt.Errorf("decode init code:\n%w", err)
	}
	if tx.InitData, err = parseBOC(fb.InitDataBytes()); err != nil {
		return nil, fmt.Errorf("decode init data:\n%w", err)
	}

	if att := fb.AttestationBytes(); len(att) > 0 {
		tx.Attestation = append([]byte{}, att...)
	}

	var out types.OutMessage
	for i := 0; i < fb.OutLength(); i++ {
		if !fb.Out(&out, i) {
			return nil, fmt.Errorf("read out message %d", i)
		}

		msg, err := decodeOut(&out)
		if err != nil {
			return nil, fmt.Errorf("decode out message %d:\n%w", i, err)
		}
		tx.Out = append(tx.Out, msg)
	}

	return tx, nil
}

func decodeOut(fb *types.OutMessage) (OutMessage, error) {
	to, err := parseAddrBytes(fb.ToBytes())
	if err != nil {
		return OutMessage{}, err
	}

	body, err := parseBOC(fb.BodyBytes())
	if err != nil {
		return OutMessage{}, err
	}

	msg := OutMessage{To: to, Value: fb.Value(), Body: body}

	if fb.InitCodeLength() > 0 {
		code, err := parseBOC(fb.InitCodeBytes())
		if err != nil {
			return OutMessage{}, err
		}

		data, err := parseBOC(fb.InitDataBytes())
		if err != nil {
			return OutMessage{}, err
		}

		msg.Init = &stateinit.StateInit{Code: code, Data: data}
	}

	return msg, nil
}

// addrBytes returns the 33-byte key of a, or nil for none.
func addrBytes(a *address.Address) []byte {
	k, err := stateinit.Key(a)
	if err != nil {
		return nil
	}

	return k[:]
}

func parseAddrBytes(b []byte) (*address.Address, error) {
	if len(b) == 0 {
		return nil, nil
	}

	if len(b) != stateinit.KeySize {
		return nil, fmt.Errorf("invalid address length %d", len(b))
	}

	var k [stateinit.KeySize]byte
	copy(k[:], b)

	return stateinit.FromKey(k), nil
}

func bocBytes(c *cell.Cell) []byte {
	if c == nil {
		return nil
	}

	return c.ToBOC()
}

func parseBOC(b []byte) (*cell.Cell, error) {
	if len(b) == 0 {
		return nil, nil
	}

	return cell.FromBOC(b)
}
