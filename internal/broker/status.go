package broker

import (
	"fmt"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// Status is the reply to a "status" inquiry.
type Status struct {
	Slots   []SlotStatus
	Mirrors []string
}

func (s Status) Free() int {
	free := 0
	for _, slot := range s.Slots {
		if !slot.Busy && !slot.Reserved {
			free++
		}
	}
	return free
}

// EncodeStatus serialises s as a protobuf Struct:
// {"slots": [{"port", "busy", "reserved"}...], "mirrors": [...]}.
func EncodeStatus(s Status) ([]byte, error) {
	slots := make([]any, len(s.Slots))
	for i, slot := range s.Slots {
		slots[i] = map[string]any{
			"port":     slot.Port,
			"busy":     slot.Busy,
			"reserved": slot.Reserved,
		}
	}
	mirrors := make([]any, len(s.Mirrors))
	for i, m := range s.Mirrors {
		mirrors[i] = m
	}

	st, err := structpb.NewStruct(map[string]any{
		"slots":   slots,
		"mirrors": mirrors,
	})
	if err != nil {
		return nil, err
	}
	return proto.Marshal(st)
}

func DecodeStatus(data []byte) (Status, error) {
	var st structpb.Struct
	if err := proto.Unmarshal(data, &st); err != nil {
		return Status{}, err
	}

	var out Status
	for _, v := range st.GetFields()["slots"].GetListValue().GetValues() {
		fields := v.GetStructValue().GetFields()
		if fields == nil {
			return Status{}, fmt.Errorf("malformed slot entry")
		}
		out.Slots = append(out.Slots, SlotStatus{
			Port:     int(fields["port"].GetNumberValue()),
			Busy:     fields["busy"].GetBoolValue(),
			Reserved: fields["reserved"].GetBoolValue(),
		})
	}
	for _, v := range st.GetFields()["mirrors"].GetListValue().GetValues() {
		out.Mirrors = append(out.Mirrors, v.GetStringValue())
	}
	return out, nil
}
