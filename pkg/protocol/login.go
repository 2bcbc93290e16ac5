package protocol

import "github.com/QYUbit/scenesync/pkg/bitstream"

// Property is a login key/value pair.
type Property struct {
	Key   string
	Value string
}

// Login is the first message a client sends.
type Login struct {
	Properties []Property
}

func (*Login) MessageID() ID      { return LoginID }
func (*Login) Delivery() Delivery { return DefaultDelivery() }

func (m *Login) MarshalBinary() ([]byte, error) {
	w := bitstream.NewWriter()
	if err := writeCount(w, len(m.Properties)); err != nil {
		return nil, err
	}
	for _, p := range m.Properties {
		if err := writeName(w, p.Key); err != nil {
			return nil, err
		}
		if err := w.WriteString16(p.Value); err != nil {
			return nil, ErrFieldTooLarge
		}
	}
	return w.Bytes(), nil
}

func (m *Login) UnmarshalBinary(p []byte) error {
	r := bitstream.NewReader(p)
	n, err := r.ReadU8()
	if err != nil {
		return err
	}
	m.Properties = make([]Property, 0, n)
	for range int(n) {
		var prop Property
		if prop.Key, err = r.ReadString8(); err != nil {
			return err
		}
		if prop.Value, err = r.ReadString16(); err != nil {
			return err
		}
		m.Properties = append(m.Properties, prop)
	}
	return nil
}

type LoginReply struct {
	Success bool
	UserID  string
	Reason  string
}

func (*LoginReply) MessageID() ID      { return LoginReplyID }
func (*LoginReply) Delivery() Delivery { return DefaultDelivery() }

func (m *LoginReply) MarshalBinary() ([]byte, error) {
	w := bitstream.NewWriter()
	w.WriteBool(m.Success)
	if err := writeName(w, m.UserID); err != nil {
		return nil, err
	}
	if err := w.WriteString16(m.Reason); err != nil {
		return nil, ErrFieldTooLarge
	}
	return w.Bytes(), nil
}

func (m *LoginReply) UnmarshalBinary(p []byte) (err error) {
	r := bitstream.NewReader(p)
	if m.Success, err = r.ReadBool(); err != nil {
		return err
	}
	if m.UserID, err = r.ReadString8(); err != nil {
		return err
	}
	m.Reason, err = r.ReadString16()
	return err
}
