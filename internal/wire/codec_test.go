package wire

import (
	"bytes"
	"reflect"
	"testing"

	"github.com/odin-platform/overseer/internal/model"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	key := model.Key("orders/42")
	strVal := model.NewStringValue("filled")
	intVal := model.NewIntegerValue(-17)

	cases := []struct {
		name string
		pkt  Packet
	}{
		{"insert-string", Packet{ID: PacketID{ID: 1}, Payload: InsertPayload{Key: key, Value: strVal}}},
		{"insert-integer", Packet{ID: PacketID{ID: 2}, Payload: InsertPayload{Key: key, Value: intVal}}},
		{"get", Packet{ID: PacketID{ID: 3}, Payload: GetPayload{Key: key}}},
		{"watch-kickback-ordered", Packet{ID: PacketID{ID: 4}, Payload: WatchPayload{Key: key, Activity: ActivityKickback, Behaviour: BehaviourOrdered}}},
		{"watch-lazy-eager", Packet{ID: PacketID{ID: 5}, Payload: WatchPayload{Key: key, Activity: ActivityLazy, Behaviour: BehaviourEager}}},
		{"release", Packet{ID: PacketID{ID: 6}, Payload: ReleasePayload{Key: key}}},
		{"delete", Packet{ID: PacketID{ID: 7}, Payload: DeletePayload{Key: key}}},
		{"notify-value", Packet{ID: PacketID{ID: 0}, Payload: NotifyPayload{Key: key, Value: &strVal, More: true}}},
		{"notify-none", Packet{ID: PacketID{ID: 0}, Payload: NotifyPayload{Key: key, Value: nil, More: false}}},
		{"return-value", Packet{ID: PacketID{ID: 8}, Payload: ReturnPayload{Key: key, Value: &intVal}}},
		{"return-none", Packet{ID: PacketID{ID: 9}, Payload: ReturnPayload{Key: key, Value: nil}}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			encoded := Encode(tc.pkt)
			decoded, err := Decode(encoded)
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if decoded.ID != tc.pkt.ID {
				t.Fatalf("id mismatch: got %+v want %+v", decoded.ID, tc.pkt.ID)
			}
			if decoded.Payload.Tag() != tc.pkt.Payload.Tag() {
				t.Fatalf("tag mismatch: got %v want %v", decoded.Payload.Tag(), tc.pkt.Payload.Tag())
			}
			if !reflect.DeepEqual(decoded, tc.pkt) {
				t.Fatalf("payload mismatch: got %+v want %+v", decoded, tc.pkt)
			}
		})
	}
}

func TestWriteReadFrame(t *testing.T) {
	var buf bytes.Buffer
	key := model.Key("feed/btc-usd")
	val := model.NewIntegerValue(64000)
	pkt := Packet{ID: PacketID{ID: 11}, Payload: InsertPayload{Key: key, Value: val}}

	if err := WriteFrame(&buf, pkt); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}

	got, err := ReadFrame(&buf)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	ins, ok := got.Payload.(InsertPayload)
	if !ok {
		t.Fatalf("got payload type %T, want InsertPayload", got.Payload)
	}
	if ins.Key != key {
		t.Fatalf("key mismatch: got %q want %q", ins.Key, key)
	}
	i, ok := ins.Value.AsInteger()
	if !ok || i != 64000 {
		t.Fatalf("value mismatch: got %v ok=%v", i, ok)
	}
}

func TestDecodeRejectsUnknownVersion(t *testing.T) {
	pkt := Packet{ID: PacketID{ID: 1}, Payload: GetPayload{Key: "k"}}
	buf := Encode(pkt)
	buf[0] = 0xFF
	if _, err := Decode(buf); err != ErrUnknownVersion {
		t.Fatalf("got err %v, want ErrUnknownVersion", err)
	}
}

func TestPacketIDIsPush(t *testing.T) {
	if !(PacketID{ID: 0}).IsPush() {
		t.Fatal("id 0 should be a push")
	}
	if (PacketID{ID: 1}).IsPush() {
		t.Fatal("nonzero id should not be a push")
	}
}
