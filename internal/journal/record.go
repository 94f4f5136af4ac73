package journal

import (
	"encoding/json"

	"github.com/bytedance/sonic"
	"github.com/yanun0323/errors"

	"papertrader/internal/schema"
)

var ErrUnknownKind = errors.New("journal: unknown event kind")

// Record is one journal line as read back from disk. Payload stays raw until Decode.
type Record struct {
	Header  schema.EventHeader `json:"header"`
	Payload json.RawMessage    `json:"payload"`
}

func encodeEvent(e schema.Event) ([]byte, error) {
	line, err := sonic.ConfigStd.Marshal(e)
	if err != nil {
		return nil, errors.Wrapf(err, "encode %s event %d", e.Header.Kind, e.Header.Seq)
	}
	return append(line, '\n'), nil
}

func decodeRecord(line []byte) (Record, error) {
	var rec Record
	if err := sonic.ConfigStd.Unmarshal(line, &rec); err != nil {
		return Record{}, errors.Wrap(err, "decode journal line")
	}
	return rec, nil
}

// Decode unmarshals the payload into the schema type of its kind.
func (r Record) Decode() (any, error) {
	var target any
	switch r.Header.Kind {
	case schema.EventTick:
		target = &schema.Tick{}
	case schema.EventSignal:
		target = &schema.Signal{}
	case schema.EventTrade:
		target = &schema.Trade{}
	case schema.EventPositionSnapshot:
		target = &schema.PositionSnapshot{}
	case schema.EventStopLossUpdate:
		target = &schema.StopLossUpdate{}
	case schema.EventRiskDecision:
		target = &schema.RiskDecision{}
	case schema.EventSession:
		target = &schema.SessionEvent{}
	default:
		return nil, errors.Wrapf(ErrUnknownKind, "%s", r.Header.Kind)
	}
	if err := sonic.ConfigStd.Unmarshal(r.Payload, target); err != nil {
		return nil, errors.Wrapf(err, "decode %s payload %d", r.Header.Kind, r.Header.Seq)
	}
	return deref(target), nil
}

// Event rebuilds the envelope with a typed payload.
func (r Record) Event() (schema.Event, error) {
	payload, err := r.Decode()
	if err != nil {
		return schema.Event{}, err
	}
	return schema.Event{Header: r.Header, Payload: payload}, nil
}

func deref(v any) any {
	switch p := v.(type) {
	case *schema.Tick:
		return *p
	case *schema.Signal:
		return *p
	case *schema.Trade:
		return *p
	case *schema.PositionSnapshot:
		return *p
	case *schema.StopLossUpdate:
		return *p
	case *schema.RiskDecision:
		return *p
	case *schema.SessionEvent:
		return *p
	}
	return v
}
