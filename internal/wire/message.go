package wire

// MsgType is the top-level message type carried in every frame header
// (spec.md §6: `u64 msg_id; u8 type`).
type MsgType uint8

const (
	MsgQuit MsgType = iota + 1
	MsgRunProcess
	MsgKillProcess
	MsgMountVolume
	MsgQueryOutput
	MsgNetCtl
	MsgNetHost
	MsgQueryProcStats // expanded, SPEC_FULL.md §10.1
	MsgConnTest       // expanded, SPEC_FULL.md §10.3
	MsgUploadFile
	MsgPutInput
	MsgSyncFS
)

// RespType tags the shape of a response frame (spec.md §6).
type RespType uint8

const (
	RespOK RespType = iota
	RespOKU64
	RespOKBytes
	RespErr
)

// NotifyType tags an unsolicited message (msg_id == 0).
type NotifyType uint8

const (
	NotifyOutputAvailable NotifyType = iota
	NotifyProcessDied
)

// Sub-message types within MSG_RUN_PROCESS (spec.md §6).
const (
	SubBin byte = iota
	SubArg
	SubEnv
	SubUID
	SubGID
	SubRFD
	SubCWD
	SubEnt
	SubEnd
)

// Sub-message types within MSG_KILL_PROCESS.
const (
	SubKillID byte = iota
	SubKillEnd
)

// Sub-message types within MSG_MOUNT_VOLUME.
const (
	SubTag byte = iota
	SubPath
	SubMountEnd
)

// Sub-message types of the tunneled-ufs continuation (SPEC_FULL.md
// §10.2): once {TAG:"ufs", PATH, END} opens the tunnel, the host may
// keep sending these, still tagged with the same msg_id, until it sends
// SubUFSClose.
const (
	SubUFSData byte = iota
	SubUFSClose
)

// Sub-message types within MSG_QUERY_OUTPUT.
const (
	SubQID byte = iota
	SubQFD
	SubQOff
	SubQLen
	SubQEnd
)

// Sub-message types within MSG_NET_CTL.
const (
	SubFlags byte = iota
	SubAddr
	SubMask
	SubGateway
	SubIfAddr
	SubIf
	SubNetEnd
)

// Sub-message types within MSG_NET_HOST.
const (
	SubEntry byte = iota
	SubHostEnd
)

// Sub-message types within MSG_QUERY_PROC_STATS.
const (
	SubStatID byte = iota
	SubStatEnd
)

// Sub-message types within MSG_CONN_TEST.
const (
	SubProto byte = iota
	SubHost
	SubPort
	SubTimeout
	SubConnEnd
)

// RedirType tags an RFD sub-message's redirection kind.
type RedirType byte

const (
	RedirInvalid RedirType = iota
	RedirFile
	RedirPipeBlocking
	RedirPipeCyclic
	RedirPTY // expanded, SPEC_FULL.md §10.4
)

// ConnProto selects the probe kind for MSG_CONN_TEST.
type ConnProto byte

const (
	ConnTCP ConnProto = iota
	ConnUDP
	ConnICMP
	ConnDNS
)

// Header is the fixed 9-byte prefix of every frame.
type Header struct {
	MsgID uint64
	Type  MsgType
}

func (rd *Reader) ReadHeader() (Header, error) {
	id, err := rd.ReadU64()
	if err != nil {
		return Header{}, err
	}
	t, err := rd.ReadU8()
	if err != nil {
		return Header{}, err
	}
	return Header{MsgID: id, Type: MsgType(t)}, nil
}

func (wr *Writer) WriteHeader(msgID uint64, t uint8) error {
	if err := wr.WriteU64(msgID); err != nil {
		return err
	}
	return wr.WriteU8(t)
}

func (wr *Writer) WriteOK(msgID uint64) error {
	if err := wr.WriteHeader(msgID, uint8(RespOK)); err != nil {
		return err
	}
	return nil
}

func (wr *Writer) WriteOKU64(msgID uint64, v uint64) error {
	if err := wr.WriteHeader(msgID, uint8(RespOKU64)); err != nil {
		return err
	}
	return wr.WriteU64(v)
}

func (wr *Writer) WriteOKBytes(msgID uint64, b []byte) error {
	if err := wr.WriteHeader(msgID, uint8(RespOKBytes)); err != nil {
		return err
	}
	return wr.WriteBytes(b)
}

func (wr *Writer) WriteErr(msgID uint64, errno uint32) error {
	if err := wr.WriteHeader(msgID, uint8(RespErr)); err != nil {
		return err
	}
	return wr.WriteU32(errno)
}

func (wr *Writer) WriteNotifyOutputAvailable(processID uint64, fd uint32) error {
	if err := wr.WriteHeader(0, uint8(NotifyOutputAvailable)); err != nil {
		return err
	}
	if err := wr.WriteU64(processID); err != nil {
		return err
	}
	return wr.WriteU32(fd)
}

func (wr *Writer) WriteNotifyProcessDied(processID uint64, status uint8, typeCode uint8) error {
	if err := wr.WriteHeader(0, uint8(NotifyProcessDied)); err != nil {
		return err
	}
	if err := wr.WriteU64(processID); err != nil {
		return err
	}
	if err := wr.WriteU8(status); err != nil {
		return err
	}
	return wr.WriteU8(typeCode)
}
