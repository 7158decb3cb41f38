package incall

import (
	"encoding/json"
	"fmt"
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	types "github.com/sebas/callmanager/api/types/v1"
	"github.com/sebas/callmanager/internal/telecom/call"
)

// CallSnapshot renders c for clients. fg is the current foreground call.
// It reads call state and must run under the orchestrator's lock.
func CallSnapshot(c *call.Call, fg *call.Call) types.Call {
	s := types.Call{
		ID:                c.ID(),
		State:             c.State().String(),
		Direction:         c.Direction().String(),
		CallerDisplayName: c.CallerDisplayName(),
		VideoState:        c.VideoState().String(),
		ParentID:          c.ParentID(),
		ChildIDs:          c.ChildIDs(),
		Conference:        c.IsConference(),
		Emergency:         c.IsEmergency(),
		ConnectionService: c.ConnectionID(),
		Duration:          int(c.Duration().Seconds()),
		Foreground:        fg != nil && fg == c,
	}
	switch p := c.HandlePresentation(); p {
	case call.PresentationRestricted, call.PresentationUnknown, call.PresentationPayphone:
		s.Presentation = p.String()
	default:
		s.Handle = string(c.Handle())
		if p != 0 {
			s.Presentation = p.String()
		}
	}
	if acct := c.TargetAccount(); !acct.IsZero() {
		s.Account = acct.String()
	}
	if caps := c.Capabilities(); caps != 0 {
		s.Capabilities = caps.String()
	}
	if cause := c.DisconnectCause(); cause.Code != call.DisconnectUnknown {
		s.DisconnectCause = cause.String()
	}
	if t := c.ConnectTime(); !t.IsZero() {
		s.ConnectedAt = t.UTC().Format(time.RFC3339)
	}
	return s
}

// AudioSnapshot renders an audio state for clients
func AudioSnapshot(a call.AudioState) types.AudioState {
	return types.AudioState{
		Muted:           a.Muted,
		Route:           a.Route.String(),
		SupportedRoutes: a.SupportedRoutes.String(),
	}
}

// toStruct converts a JSON-tagged value into a protobuf Struct
func toStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %T: %w", v, err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to unmarshal %T: %w", v, err)
	}
	s, err := structpb.NewStruct(m)
	if err != nil {
		return nil, fmt.Errorf("failed to build struct for %T: %w", v, err)
	}
	return s, nil
}

// fromStruct decodes a protobuf Struct into a JSON-tagged value
func fromStruct(s *structpb.Struct, v any) error {
	data, err := json.Marshal(s.AsMap())
	if err != nil {
		return fmt.Errorf("failed to marshal struct: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to decode %T: %w", v, err)
	}
	return nil
}
