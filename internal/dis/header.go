// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package dis

// ProtocolType identifies the batch protocol on the wire (section 6: always
// 2 for the batch protocol this core implements).
const ProtocolType = 2

// ProtocolVersion is the DIS header's version field; only 1 and 2 are
// recognized (section 4.5).
type ProtocolVersion int

const (
	ProtocolVersion1 ProtocolVersion = 1
	ProtocolVersion2 ProtocolVersion = 2
)

func (v ProtocolVersion) Valid() bool {
	return v == ProtocolVersion1 || v == ProtocolVersion2
}

// Header is the fixed-order header every batch request begins with
// (section 4.5, step 1): protocol type, protocol version, request type
// (an enum carried here as its string name, decoded by internal/dispatch),
// and the user name.
type Header struct {
	ProtocolType    int
	ProtocolVersion ProtocolVersion
	RequestType     string
	User            string
}

// WriteHeader encodes a Header in wire order.
func (w *Writer) WriteHeader(h Header) error {
	if err := w.WriteUint(uint64(h.ProtocolType)); err != nil {
		return err
	}
	if err := w.WriteUint(uint64(h.ProtocolVersion)); err != nil {
		return err
	}
	if err := w.WriteString(h.RequestType); err != nil {
		return err
	}
	return w.WriteString(h.User)
}

// ReadHeader decodes a Header, rejecting an unsupported protocol version
// with the typed protocol error named in section 4.9.
func (r *Reader) ReadHeader() (Header, error) {
	ptype, err := r.ReadUint()
	if err != nil {
		return Header{}, err
	}
	version, err := r.ReadUint()
	if err != nil {
		return Header{}, err
	}
	reqType, err := r.ReadString()
	if err != nil {
		return Header{}, err
	}
	user, err := r.ReadString()
	if err != nil {
		return Header{}, err
	}
	h := Header{
		ProtocolType:    int(ptype),
		ProtocolVersion: ProtocolVersion(version),
		RequestType:     reqType,
		User:            user,
	}
	if !h.ProtocolVersion.Valid() {
		return h, newErr(ErrProtocol, nil)
	}
	return h, nil
}

// Extend is the optional trailing blob (section 4.5 step 3) plus, on the
// MT transport, a trailing message id used for multiplexed delivery.
type Extend struct {
	Data      string
	MessageID uint64
	HasMsgID  bool
}

func (w *Writer) WriteExtend(e Extend) error {
	if err := w.WriteString(e.Data); err != nil {
		return err
	}
	if err := w.w.WriteByte(boolByte(e.HasMsgID)); err != nil {
		return newErr(ErrProtocol, err)
	}
	if e.HasMsgID {
		return w.WriteUint(e.MessageID)
	}
	return nil
}

func (r *Reader) ReadExtend() (Extend, error) {
	data, err := r.ReadString()
	if err != nil {
		return Extend{}, err
	}
	hasFlag, err := r.r.ReadByte()
	if err != nil {
		return Extend{}, newErr(ErrEOD, err)
	}
	e := Extend{Data: data, HasMsgID: hasFlag != 0}
	if e.HasMsgID {
		id, err := r.ReadUint()
		if err != nil {
			return Extend{}, err
		}
		e.MessageID = id
	}
	return e, nil
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}
