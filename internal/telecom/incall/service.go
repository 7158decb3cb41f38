// Package incall exposes the in-call control surface over gRPC: the
// commands a dialer sends on the user's behalf and a stream of call
// updates. Messages are protobuf Structs carrying the JSON shapes of
// api/types/v1.
package incall

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"unicode/utf8"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	types "github.com/sebas/callmanager/api/types/v1"
	"github.com/sebas/callmanager/internal/telecom/account"
	"github.com/sebas/callmanager/internal/telecom/call"
	"github.com/sebas/callmanager/internal/telecom/orchestrator"
)

// ServiceName is the fully qualified gRPC service name
const ServiceName = "callmanager.InCall"

// Method names
const (
	MethodAnswer               = "Answer"
	MethodReject               = "Reject"
	MethodHold                 = "Hold"
	MethodUnhold               = "Unhold"
	MethodDisconnect           = "Disconnect"
	MethodMute                 = "Mute"
	MethodSetAudioRoute        = "SetAudioRoute"
	MethodPlayDtmf             = "PlayDtmf"
	MethodStopDtmf             = "StopDtmf"
	MethodConference           = "Conference"
	MethodSplit                = "Split"
	MethodMerge                = "Merge"
	MethodSwap                 = "Swap"
	MethodPostDialContinue     = "PostDialContinue"
	MethodPhoneAccountSelected = "PhoneAccountSelected"
	MethodPlaceCall            = "PlaceCall"
	MethodGetCalls             = "GetCalls"
	MethodSubscribe            = "Subscribe"
)

// Core is the part of the orchestrator the service drives
type Core interface {
	Do(fn func())
	Calls() []*call.Call
	ForegroundCall() *call.Call
	CanAddCall() bool
	AudioState() call.AudioState

	AnswerCall(id string, videoState call.VideoState) error
	RejectCall(id string, withMessage bool, text string) error
	HoldCall(id string) error
	UnholdCall(id string) error
	DisconnectCall(id string) error
	MuteCall(muted bool)
	SetAudioRoute(route call.Route)
	PlayDTMFTone(id string, digit rune) error
	StopDTMFTone(id string) error
	Conference(id, otherID string) error
	SplitFromConference(id string) error
	MergeConference(id string) error
	SwapConference(id string) error
	PostDialContinue(id string, proceed bool) error
	PhoneAccountSelected(id string, acct account.Handle, setDefault bool) error
	StartOutgoingCall(handle call.Address, requested account.Handle) (*call.Call, error)
	PlaceOutgoingCall(id string, handle call.Address, gateway *call.GatewayInfo, speakerphoneOn bool, videoState call.VideoState) error
}

var _ Core = (*orchestrator.Orchestrator)(nil)

// inCallServer is the handler type of the service descriptor
type inCallServer interface {
	invoke(ctx context.Context, method string, req *structpb.Struct) (*structpb.Struct, error)
	subscribe(req *structpb.Struct, stream grpc.ServerStream) error
}

// ServiceDesc describes the in-call service for grpc.Server.RegisterService
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*inCallServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(MethodAnswer),
		unary(MethodReject),
		unary(MethodHold),
		unary(MethodUnhold),
		unary(MethodDisconnect),
		unary(MethodMute),
		unary(MethodSetAudioRoute),
		unary(MethodPlayDtmf),
		unary(MethodStopDtmf),
		unary(MethodConference),
		unary(MethodSplit),
		unary(MethodMerge),
		unary(MethodSwap),
		unary(MethodPostDialContinue),
		unary(MethodPhoneAccountSelected),
		unary(MethodPlaceCall),
		unary(MethodGetCalls),
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    MethodSubscribe,
			ServerStreams: true,
			Handler: func(srv any, stream grpc.ServerStream) error {
				req := new(structpb.Struct)
				if err := stream.RecvMsg(req); err != nil {
					return err
				}
				return srv.(inCallServer).subscribe(req, stream)
			},
		},
	},
	Metadata: "callmanager/incall.proto",
}

func fullMethod(name string) string {
	return "/" + ServiceName + "/" + name
}

func unary(name string) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			req := new(structpb.Struct)
			if err := dec(req); err != nil {
				return nil, err
			}
			s := srv.(inCallServer)
			if interceptor == nil {
				return s.invoke(ctx, name, req)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(name)}
			return interceptor(ctx, req, info, func(ctx context.Context, req any) (any, error) {
				return s.invoke(ctx, name, req.(*structpb.Struct))
			})
		},
	}
}

// Server implements the in-call service on top of the orchestrator
type Server struct {
	core Core
	hub  *Hub

	subscriberBuffer int
}

// ServerOption configures a Server
type ServerOption func(*Server)

// WithSubscriberBuffer sets the number of updates queued per subscriber
func WithSubscriberBuffer(n int) ServerOption {
	return func(s *Server) { s.subscriberBuffer = n }
}

// NewServer creates the service. hub must be registered as a listener on core.
func NewServer(core Core, hub *Hub, opts ...ServerOption) *Server {
	s := &Server{core: core, hub: hub, subscriberBuffer: DefaultSubscriberBuffer}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register adds the service to gs
func (s *Server) Register(gs *grpc.Server) {
	gs.RegisterService(&ServiceDesc, s)
}

// reply is the body of every unary response
type reply struct {
	Accepted bool         `json:"accepted"`
	Reason   string       `json:"reason,omitempty"`
	CallID   string       `json:"call_id,omitempty"`
	Calls    []types.Call `json:"calls,omitempty"`
}

func (s *Server) invoke(ctx context.Context, method string, req *structpb.Struct) (*structpb.Struct, error) {
	a := args{fields: req.GetFields()}
	cmd, err := s.command(method, a)
	if err != nil {
		return nil, err
	}

	var out reply
	var cmdErr error
	s.core.Do(func() { out, cmdErr = cmd() })

	switch {
	case cmdErr == nil:
		out.Accepted = true
	case errors.Is(cmdErr, orchestrator.ErrAdmissionRejected):
		return nil, status.Error(codes.ResourceExhausted, cmdErr.Error())
	default:
		slog.Info("[InCall] Command not applied", "method", method, "error", cmdErr)
		out.Reason = cmdErr.Error()
	}

	resp, err := toStruct(out)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return resp, nil
}

// command validates the arguments of method and returns the work to run
// under the orchestrator's lock
func (s *Server) command(method string, a args) (func() (reply, error), error) {
	done := func(err error) (reply, error) { return reply{}, err }

	switch method {
	case MethodAnswer:
		id, err := a.require("call_id")
		if err != nil {
			return nil, err
		}
		video := call.VideoState(a.number("video_state"))
		return func() (reply, error) { return done(s.core.AnswerCall(id, video)) }, nil

	case MethodReject:
		id, err := a.require("call_id")
		if err != nil {
			return nil, err
		}
		withMessage, text := a.boolean("with_message"), a.str("text")
		return func() (reply, error) { return done(s.core.RejectCall(id, withMessage, text)) }, nil

	case MethodHold, MethodUnhold, MethodDisconnect, MethodStopDtmf, MethodSplit, MethodMerge, MethodSwap:
		id, err := a.require("call_id")
		if err != nil {
			return nil, err
		}
		op := map[string]func(string) error{
			MethodHold:       s.core.HoldCall,
			MethodUnhold:     s.core.UnholdCall,
			MethodDisconnect: s.core.DisconnectCall,
			MethodStopDtmf:   s.core.StopDTMFTone,
			MethodSplit:      s.core.SplitFromConference,
			MethodMerge:      s.core.MergeConference,
			MethodSwap:       s.core.SwapConference,
		}[method]
		return func() (reply, error) { return done(op(id)) }, nil

	case MethodMute:
		muted := a.boolean("muted")
		return func() (reply, error) {
			s.core.MuteCall(muted)
			return reply{}, nil
		}, nil

	case MethodSetAudioRoute:
		name, err := a.require("route")
		if err != nil {
			return nil, err
		}
		route, ok := call.ParseRoute(name)
		if !ok {
			return nil, status.Errorf(codes.InvalidArgument, "unknown route %q", name)
		}
		return func() (reply, error) {
			s.core.SetAudioRoute(route)
			return reply{}, nil
		}, nil

	case MethodPlayDtmf:
		id, err := a.require("call_id")
		if err != nil {
			return nil, err
		}
		digit, err := a.require("digit")
		if err != nil {
			return nil, err
		}
		if utf8.RuneCountInString(digit) != 1 {
			return nil, status.Errorf(codes.InvalidArgument, "digit must be one character, got %q", digit)
		}
		r, _ := utf8.DecodeRuneInString(digit)
		return func() (reply, error) { return done(s.core.PlayDTMFTone(id, r)) }, nil

	case MethodConference:
		id, err := a.require("call_id")
		if err != nil {
			return nil, err
		}
		other, err := a.require("other_call_id")
		if err != nil {
			return nil, err
		}
		return func() (reply, error) { return done(s.core.Conference(id, other)) }, nil

	case MethodPostDialContinue:
		id, err := a.require("call_id")
		if err != nil {
			return nil, err
		}
		proceed := a.boolean("proceed")
		return func() (reply, error) { return done(s.core.PostDialContinue(id, proceed)) }, nil

	case MethodPhoneAccountSelected:
		id, err := a.require("call_id")
		if err != nil {
			return nil, err
		}
		acct, err := a.account("account")
		if err != nil {
			return nil, err
		}
		setDefault := a.boolean("set_default")
		return func() (reply, error) { return done(s.core.PhoneAccountSelected(id, acct, setDefault)) }, nil

	case MethodPlaceCall:
		handle, err := a.require("handle")
		if err != nil {
			return nil, err
		}
		var acct account.Handle
		if a.str("account") != "" {
			if acct, err = a.account("account"); err != nil {
				return nil, err
			}
		}
		speaker := a.boolean("speakerphone")
		video := call.VideoState(a.number("video_state"))
		return func() (reply, error) {
			addr := call.Address(handle)
			c, err := s.core.StartOutgoingCall(addr, acct)
			if err != nil {
				return reply{}, err
			}
			if err := s.core.PlaceOutgoingCall(c.ID(), addr, nil, speaker, video); err != nil {
				return reply{CallID: c.ID()}, err
			}
			return reply{CallID: c.ID()}, nil
		}, nil

	case MethodGetCalls:
		return func() (reply, error) {
			fg := s.core.ForegroundCall()
			calls := s.core.Calls()
			out := reply{Calls: make([]types.Call, 0, len(calls))}
			for _, c := range calls {
				out.Calls = append(out.Calls, CallSnapshot(c, fg))
			}
			return out, nil
		}, nil
	}
	return nil, status.Errorf(codes.Unimplemented, "unknown method %s", method)
}

// subscribe streams the current calls followed by every update until the
// client goes away
func (s *Server) subscribe(_ *structpb.Struct, stream grpc.ServerStream) error {
	var initial []types.Update
	var updates <-chan types.Update
	var cancel func()
	s.core.Do(func() {
		fg := s.core.ForegroundCall()
		for _, c := range s.core.Calls() {
			snap := CallSnapshot(c, fg)
			initial = append(initial, types.Update{Kind: types.UpdateAddCall, Call: &snap})
		}
		audio := AudioSnapshot(s.core.AudioState())
		initial = append(initial,
			types.Update{Kind: types.UpdateAudioState, Audio: &audio},
			types.Update{Kind: types.UpdateCanAddCallChanged, CanAddCall: s.core.CanAddCall()},
		)
		updates, cancel = s.hub.Subscribe(s.subscriberBuffer)
	})
	defer cancel()

	slog.Info("[InCall] Subscriber connected", "calls", len(initial)-2)
	defer slog.Info("[InCall] Subscriber disconnected")

	for _, u := range initial {
		if err := sendUpdate(stream, u); err != nil {
			return err
		}
	}
	for {
		select {
		case <-stream.Context().Done():
			return nil
		case u, ok := <-updates:
			if !ok {
				return nil
			}
			if err := sendUpdate(stream, u); err != nil {
				return err
			}
		}
	}
}

func sendUpdate(stream grpc.ServerStream, u types.Update) error {
	msg, err := toStruct(u)
	if err != nil {
		return status.Error(codes.Internal, err.Error())
	}
	return stream.SendMsg(msg)
}

// args reads typed request fields
type args struct {
	fields map[string]*structpb.Value
}

func (a args) str(key string) string {
	return a.fields[key].GetStringValue()
}

func (a args) boolean(key string) bool {
	return a.fields[key].GetBoolValue()
}

func (a args) number(key string) float64 {
	return a.fields[key].GetNumberValue()
}

func (a args) require(key string) (string, error) {
	v := a.str(key)
	if v == "" {
		return "", status.Errorf(codes.InvalidArgument, "missing %s", key)
	}
	return v, nil
}

func (a args) account(key string) (account.Handle, error) {
	v, err := a.require(key)
	if err != nil {
		return account.Handle{}, err
	}
	h, err := account.ParseHandle(v)
	if err != nil {
		return account.Handle{}, status.Error(codes.InvalidArgument, fmt.Sprintf("bad %s: %v", key, err))
	}
	return h, nil
}
