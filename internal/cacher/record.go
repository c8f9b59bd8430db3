package cacher

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/atlasdatatech/tileserver/internal/errs"
)

// EncodeRecord serializes a CachedTile into a length-delimited record:
// policy byte, header count, repeated (name,value) length-prefixed
// pairs, then the data payload length-prefixed. Fields are positional,
// not tagged; the count and every length prefix are big-endian uint32.
// Grounded on
// eak1mov-go-libtiles/index's own fixed-shape binary record encoding —
// no protobuf/flatbuffers runtime is pulled in for a single 3-field
// record (DESIGN.md).
func EncodeRecord(tile *CachedTile) []byte {
	var buf bytes.Buffer
	buf.WriteByte(byte(tile.Policy))
	binary.Write(&buf, binary.BigEndian, uint32(len(tile.Headers)))
	for _, h := range tile.Headers {
		writeLenPrefixed(&buf, []byte(h.Name))
		writeLenPrefixed(&buf, []byte(h.Value))
	}
	writeLenPrefixed(&buf, tile.Data)
	return buf.Bytes()
}

func writeLenPrefixed(buf *bytes.Buffer, data []byte) {
	binary.Write(buf, binary.BigEndian, uint32(len(data)))
	buf.Write(data)
}

// DecodeRecord parses the wire format produced by EncodeRecord.
func DecodeRecord(raw []byte) (*CachedTile, error) {
	r := bytes.NewReader(raw)
	policyByte, err := r.ReadByte()
	if err != nil {
		return nil, errs.Wrap(errs.Internal, "decode record policy", err)
	}
	var numHeaders uint32
	if err := binary.Read(r, binary.BigEndian, &numHeaders); err != nil {
		return nil, errs.Wrap(errs.Internal, "decode record header count", err)
	}
	headers := make([]Header, 0, numHeaders)
	for i := uint32(0); i < numHeaders; i++ {
		name, err := readLenPrefixed(r)
		if err != nil {
			return nil, errs.Wrap(errs.Internal, "decode header name", err)
		}
		value, err := readLenPrefixed(r)
		if err != nil {
			return nil, errs.Wrap(errs.Internal, "decode header value", err)
		}
		headers = append(headers, Header{Name: string(name), Value: string(value)})
	}
	data, err := readLenPrefixed(r)
	if err != nil {
		return nil, errs.Wrap(errs.Internal, "decode record data", err)
	}
	return &CachedTile{Data: data, Headers: headers, Policy: Policy(policyByte)}, nil
}

func readLenPrefixed(r *bytes.Reader) ([]byte, error) {
	var n uint32
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return nil, err
	}
	if int(n) > r.Len() {
		return nil, fmt.Errorf("record length %d exceeds remaining %d bytes", n, r.Len())
	}
	out := make([]byte, n)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, err
	}
	return out, nil
}
