package broadcast

import (
	"sync"

	jsoniter "github.com/json-iterator/go"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/ChuLiYu/jobwatch/pkg/types"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// EventStateUpdate is the only event name pushed to clients.
const EventStateUpdate = "state_update"

// Frame is the wire form of a snapshot event.
type Frame struct {
	Event string            `json:"event"`
	Jobs  []types.JobRecord `json:"jobs"`
}

// Event is one tick's snapshot, encoded once and shared by every channel.
type Event struct {
	Snapshot *types.Snapshot

	frame    []byte
	frameErr error

	structOnce sync.Once
	st         *structpb.Struct
	stErr      error
}

// NewEvent encodes snap into its JSON frame.
func NewEvent(snap *types.Snapshot) *Event {
	ev := &Event{Snapshot: snap}
	jobs := snap.Jobs
	if jobs == nil {
		jobs = []types.JobRecord{}
	}
	ev.frame, ev.frameErr = json.Marshal(Frame{Event: EventStateUpdate, Jobs: jobs})
	return ev
}

// JSON returns the encoded frame.
func (e *Event) JSON() ([]byte, error) {
	return e.frame, e.frameErr
}

// Struct returns the frame as a protobuf Struct for the gRPC transport. It
// is built from the JSON frame on first use.
func (e *Event) Struct() (*structpb.Struct, error) {
	e.structOnce.Do(func() {
		if e.frameErr != nil {
			e.stErr = e.frameErr
			return
		}
		st := &structpb.Struct{}
		if err := protojson.Unmarshal(e.frame, st); err != nil {
			e.stErr = err
			return
		}
		e.st = st
	})
	return e.st, e.stErr
}

// DecodeFrame parses a JSON frame back into a snapshot.
func DecodeFrame(data []byte) (*types.Snapshot, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, err
	}
	return &types.Snapshot{Jobs: f.Jobs}, nil
}

// DecodeStruct parses a Struct event back into a snapshot.
func DecodeStruct(st *structpb.Struct) (*types.Snapshot, error) {
	data, err := protojson.Marshal(st)
	if err != nil {
		return nil, err
	}
	return DecodeFrame(data)
}
