package identity

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
)

const (
	recordFormatVersionCurrent = 1
)

// record is the stored shape: one login method plus its primary pointer.
// PrimaryUserID is empty for a standalone account and equals the record's
// own RecipeUserID when the account roots a primary user.
type record struct {
	LoginMethod
	PrimaryUserID string
}

func encodeRecord(r *record) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteByte(recordFormatVersionCurrent)

	for _, s := range []string{
		r.RecipeUserID,
		string(r.RecipeID),
		r.Email,
		r.PhoneNumber,
		r.ThirdPartyID,
		r.ThirdPartyUserID,
		r.PrimaryUserID,
	} {
		if len(s) > 255 {
			return nil, errors.New("identity: record field too long")
		}
		buf.WriteByte(byte(len(s)))
		buf.WriteString(s)
	}

	if r.Verified {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}

	if err := binary.Write(&buf, binary.BigEndian, r.TimeJoined); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

func decodeRecord(data []byte) (*record, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != recordFormatVersionCurrent {
		return nil, errors.New("identity: invalid record version")
	}

	fields := make([]string, 7)
	for i := range fields {
		length, err := reader.ReadByte()
		if err != nil {
			return nil, err
		}
		raw := make([]byte, length)
		if _, err := io.ReadFull(reader, raw); err != nil {
			return nil, err
		}
		fields[i] = string(raw)
	}

	verified, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if verified > 1 {
		return nil, errors.New("identity: invalid verified flag")
	}

	var timeJoined int64
	if err := binary.Read(reader, binary.BigEndian, &timeJoined); err != nil {
		return nil, err
	}

	if reader.Len() != 0 {
		return nil, errors.New("identity: trailing record bytes")
	}

	r := &record{
		LoginMethod: LoginMethod{
			RecipeUserID:     fields[0],
			RecipeID:         RecipeID(fields[1]),
			Email:            fields[2],
			PhoneNumber:      fields[3],
			ThirdPartyID:     fields[4],
			ThirdPartyUserID: fields[5],
			Verified:         verified == 1,
			TimeJoined:       timeJoined,
		},
		PrimaryUserID: fields[6],
	}
	if r.RecipeUserID == "" {
		return nil, errors.New("identity: record missing recipe user id")
	}

	return r, nil
}
