package wire

// Op is a binary protocol opcode.
type Op uint8

// Opcodes, in wire order.
const (
	OpResponse Op = iota
	OpPrint
	OpTimeout
	OpReadAttr
	OpReadDbgAttr
	OpReadBufAttr
	OpReadChnAttr
	OpWriteAttr
	OpWriteDbgAttr
	OpWriteBufAttr
	OpWriteChnAttr
	OpGetTrig
	OpSetTrig

	OpCreateBuffer
	OpFreeBuffer
	OpEnableBuffer
	OpDisableBuffer

	OpCreateBlock
	OpFreeBlock
	OpTransferBlock
	OpEnqueueBlockCyclic
	OpRetryDequeueBlock

	OpCreateEvstream
	OpFreeEvstream
	OpReadEvent

	// NbOps is the number of defined opcodes.
	NbOps
)

var opNames = [NbOps]string{
	OpResponse:           "RESPONSE",
	OpPrint:              "PRINT",
	OpTimeout:            "TIMEOUT",
	OpReadAttr:           "READ_ATTR",
	OpReadDbgAttr:        "READ_DBG_ATTR",
	OpReadBufAttr:        "READ_BUF_ATTR",
	OpReadChnAttr:        "READ_CHN_ATTR",
	OpWriteAttr:          "WRITE_ATTR",
	OpWriteDbgAttr:       "WRITE_DBG_ATTR",
	OpWriteBufAttr:       "WRITE_BUF_ATTR",
	OpWriteChnAttr:       "WRITE_CHN_ATTR",
	OpGetTrig:            "GETTRIG",
	OpSetTrig:            "SETTRIG",
	OpCreateBuffer:       "CREATE_BUFFER",
	OpFreeBuffer:         "FREE_BUFFER",
	OpEnableBuffer:       "ENABLE_BUFFER",
	OpDisableBuffer:      "DISABLE_BUFFER",
	OpCreateBlock:        "CREATE_BLOCK",
	OpFreeBlock:          "FREE_BLOCK",
	OpTransferBlock:      "TRANSFER_BLOCK",
	OpEnqueueBlockCyclic: "ENQUEUE_BLOCK_CYCLIC",
	OpRetryDequeueBlock:  "RETRY_DEQUEUE_BLOCK",
	OpCreateEvstream:     "CREATE_EVSTREAM",
	OpFreeEvstream:       "FREE_EVSTREAM",
	OpReadEvent:          "READ_EVENT",
}

// String returns the opcode name.
func (o Op) String() string {
	if o.IsValid() {
		return opNames[o]
	}
	return "UNKNOWN"
}

// IsValid returns true if the opcode is defined.
func (o Op) IsValid() bool {
	return o < NbOps
}

// IsAttrRead reports whether o reads an attribute.
func (o Op) IsAttrRead() bool {
	return o >= OpReadAttr && o <= OpReadChnAttr
}

// IsAttrWrite reports whether o writes an attribute.
func (o Op) IsAttrWrite() bool {
	return o >= OpWriteAttr && o <= OpWriteChnAttr
}
