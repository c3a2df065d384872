// Package decoder normalizes raw ledger records into typed domain events.
// Decoding is pure and side-effect-free; a malformed record yields an
// *Error and no state change.
package decoder

import (
	"errors"
	"fmt"
	"math/big"
	"strconv"

	"github.com/cheqlabs/dCheque/internal/domain/event"
	"github.com/cheqlabs/dCheque/internal/domain/model"
)

// Raw is one undecoded ledger record: a kind tag plus a flat field map.
// ID is the source position of the record (opaque to the decoder).
type Raw struct {
	ID     string
	Kind   string
	Fields map[string]string
}

// Error describes why a raw record could not be decoded.
type Error struct {
	Kind   string
	Field  string
	Reason string
}

func (e *Error) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("decode %s: %s", e.Kind, e.Reason)
	}
	return fmt.Sprintf("decode %s: field %q: %s", e.Kind, e.Field, e.Reason)
}

// IsDecodeError reports whether err is a decoding failure.
func IsDecodeError(err error) bool {
	var de *Error
	return errors.As(err, &de)
}

// Decode turns a raw record into one of the six typed events. The kind tag
// must be recognized and every required field present and well-formed;
// addresses are normalized to canonical lowercase hex.
func Decode(raw Raw) (event.Event, error) {
	d := &fieldDecoder{kind: raw.Kind, fields: raw.Fields}

	var ev event.Event
	switch event.Kind(raw.Kind) {
	case event.KindWrite:
		ev = event.Write{
			NotaID:    d.id("tokenId"),
			Amount:    d.amount("amount"),
			Expiry:    d.uint64Field("expiry"),
			ERC20:     d.address("token"),
			Drawer:    d.address("drawer"),
			Recipient: d.address("recipient"),
			Auditor:   d.address("auditor"),
			BlockTime: d.uint64Field("blockTimestamp"),
			BlockHash: d.hex("blockHash"),
		}
	case event.KindTransfer:
		ev = event.Transfer{
			NotaID: d.id("tokenId"),
			From:   d.address("from"),
			To:     d.address("to"),
		}
	case event.KindCash:
		ev = event.Cash{
			NotaID: d.id("tokenId"),
			Bearer: d.address("bearer"),
		}
	case event.KindVoid:
		ev = event.Void{
			NotaID: d.id("tokenId"),
			Bearer: d.address("bearer"),
		}
	case event.KindShakeAuditor:
		ev = event.ShakeAuditor{
			User:      d.address("user"),
			Auditor:   d.address("auditor"),
			Accepted:  d.boolField("accepted"),
			BlockTime: d.optionalUint64("blockTimestamp"),
		}
	case event.KindShakeUser:
		ev = event.ShakeUser{
			User:      d.address("user"),
			Auditor:   d.address("auditor"),
			BlockTime: d.optionalUint64("blockTimestamp"),
		}
	default:
		return nil, &Error{Kind: raw.Kind, Reason: "unrecognized kind tag"}
	}

	if d.err != nil {
		return nil, d.err
	}
	return ev, nil
}

// fieldDecoder accumulates the first field error while extracting values,
// so Decode reads as a flat struct literal per kind.
type fieldDecoder struct {
	kind   string
	fields map[string]string
	err    *Error
}

func (d *fieldDecoder) fail(field, reason string) {
	if d.err == nil {
		d.err = &Error{Kind: d.kind, Field: field, Reason: reason}
	}
}

func (d *fieldDecoder) required(field string) (string, bool) {
	v, ok := d.fields[field]
	if !ok || v == "" {
		d.fail(field, "missing")
		return "", false
	}
	return v, true
}

func (d *fieldDecoder) id(field string) string {
	v, ok := d.required(field)
	if !ok {
		return ""
	}
	return v
}

func (d *fieldDecoder) address(field string) string {
	v, ok := d.required(field)
	if !ok {
		return ""
	}
	if !model.IsHexAddress(v) {
		d.fail(field, "not a hex address")
		return ""
	}
	return model.NormalizeAddress(v)
}

func (d *fieldDecoder) amount(field string) string {
	v, ok := d.required(field)
	if !ok {
		return ""
	}
	n, valid := new(big.Int).SetString(v, 10)
	if !valid {
		d.fail(field, "not a decimal integer")
		return ""
	}
	if n.Sign() < 0 {
		d.fail(field, "negative amount")
		return ""
	}
	return n.String()
}

func (d *fieldDecoder) uint64Field(field string) int64 {
	v, ok := d.required(field)
	if !ok {
		return 0
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		d.fail(field, "not a non-negative integer")
		return 0
	}
	return n
}

// optionalUint64 tolerates an absent field, returning zero. Shake events
// from older deployments omit the block timestamp.
func (d *fieldDecoder) optionalUint64(field string) int64 {
	v, ok := d.fields[field]
	if !ok || v == "" {
		return 0
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		d.fail(field, "not a non-negative integer")
		return 0
	}
	return n
}

func (d *fieldDecoder) boolField(field string) bool {
	v, ok := d.required(field)
	if !ok {
		return false
	}
	switch v {
	case "true", "1":
		return true
	case "false", "0":
		return false
	}
	d.fail(field, "not a boolean")
	return false
}

func (d *fieldDecoder) hex(field string) string {
	v, ok := d.required(field)
	if !ok {
		return ""
	}
	if len(v) < 2 || v[0] != '0' || (v[1] != 'x' && v[1] != 'X') {
		d.fail(field, "not 0x-prefixed hex")
		return ""
	}
	for _, c := range v[2:] {
		switch {
		case c >= '0' && c <= '9':
		case c >= 'a' && c <= 'f':
		case c >= 'A' && c <= 'F':
		default:
			d.fail(field, "not 0x-prefixed hex")
			return ""
		}
	}
	return model.NormalizeAddress(v)
}
