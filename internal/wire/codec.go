// Package wire encodes PacketRecords in protobuf wire format. The layout is
//
//	message PacketRecord {
//	  google.protobuf.Timestamp timestamp = 1;
//	  int32  pid      = 2;
//	  string protocol = 3;
//	  bytes  src_ip   = 4;
//	  uint32 src_port = 5;
//	  bytes  dst_ip   = 6;
//	  uint32 dst_port = 7;
//	  uint64 size     = 8;
//	}
package wire

import (
	"errors"
	"fmt"
	"net/netip"

	"PacketRadar/internal/model"

	"google.golang.org/protobuf/encoding/protowire"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/timestamppb"
)

const (
	fieldTimestamp protowire.Number = 1
	fieldPID       protowire.Number = 2
	fieldProtocol  protowire.Number = 3
	fieldSrcIP     protowire.Number = 4
	fieldSrcPort   protowire.Number = 5
	fieldDstIP     protowire.Number = 6
	fieldDstPort   protowire.Number = 7
	fieldSize      protowire.Number = 8
)

var ErrWireType = errors.New("unexpected wire type")

// Marshal encodes rec.
func Marshal(rec model.PacketRecord) ([]byte, error) {
	ts, err := proto.Marshal(timestamppb.New(rec.Timestamp))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal timestamp: %w", err)
	}

	b := make([]byte, 0, 64)
	b = protowire.AppendTag(b, fieldTimestamp, protowire.BytesType)
	b = protowire.AppendBytes(b, ts)
	if rec.PID != 0 {
		b = protowire.AppendTag(b, fieldPID, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(int64(rec.PID)))
	}
	if rec.Protocol != "" {
		b = protowire.AppendTag(b, fieldProtocol, protowire.BytesType)
		b = protowire.AppendString(b, string(rec.Protocol))
	}
	b = appendAddr(b, fieldSrcIP, rec.SrcIP)
	if rec.SrcPort != 0 {
		b = protowire.AppendTag(b, fieldSrcPort, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(rec.SrcPort))
	}
	b = appendAddr(b, fieldDstIP, rec.DstIP)
	if rec.DstPort != 0 {
		b = protowire.AppendTag(b, fieldDstPort, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(rec.DstPort))
	}
	if rec.Size > 0 {
		b = protowire.AppendTag(b, fieldSize, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(rec.Size))
	}
	return b, nil
}

func appendAddr(b []byte, num protowire.Number, a netip.Addr) []byte {
	if !a.IsValid() {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, a.Unmap().AsSlice())
}

// Unmarshal decodes a record. Unknown fields are skipped; addresses of the
// wrong length decode to model.UnknownAddr.
func Unmarshal(b []byte) (model.PacketRecord, error) {
	var rec model.PacketRecord
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return model.PacketRecord{}, fmt.Errorf("failed to read tag: %w", protowire.ParseError(n))
		}
		b = b[n:]

		switch num {
		case fieldTimestamp, fieldProtocol, fieldSrcIP, fieldDstIP:
			if typ != protowire.BytesType {
				return model.PacketRecord{}, fmt.Errorf("field %d: %w", num, ErrWireType)
			}
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return model.PacketRecord{}, fmt.Errorf("field %d: %w", num, protowire.ParseError(n))
			}
			b = b[n:]
			switch num {
			case fieldTimestamp:
				var ts timestamppb.Timestamp
				if err := proto.Unmarshal(v, &ts); err != nil {
					return model.PacketRecord{}, fmt.Errorf("failed to unmarshal timestamp: %w", err)
				}
				rec.Timestamp = ts.AsTime()
			case fieldProtocol:
				rec.Protocol = model.Protocol(v)
			case fieldSrcIP:
				rec.SrcIP = addrFromBytes(v)
			case fieldDstIP:
				rec.DstIP = addrFromBytes(v)
			}

		case fieldPID, fieldSrcPort, fieldDstPort, fieldSize:
			if typ != protowire.VarintType {
				return model.PacketRecord{}, fmt.Errorf("field %d: %w", num, ErrWireType)
			}
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return model.PacketRecord{}, fmt.Errorf("field %d: %w", num, protowire.ParseError(n))
			}
			b = b[n:]
			switch num {
			case fieldPID:
				rec.PID = int32(v)
			case fieldSrcPort:
				rec.SrcPort = uint16(v)
			case fieldDstPort:
				rec.DstPort = uint16(v)
			case fieldSize:
				rec.Size = int(v)
			}

		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return model.PacketRecord{}, fmt.Errorf("field %d: %w", num, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	return rec, nil
}

func addrFromBytes(v []byte) netip.Addr {
	a, ok := netip.AddrFromSlice(v)
	if !ok {
		return model.UnknownAddr
	}
	return a.Unmap()
}
