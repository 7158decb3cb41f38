package incall

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/protobuf/types/known/structpb"

	types "github.com/sebas/callmanager/api/types/v1"
)

// ClientConfig holds in-call client configuration
type ClientConfig struct {
	Address           string
	KeepaliveInterval time.Duration
	KeepaliveTimeout  time.Duration
}

// DefaultClientConfig returns sensible defaults
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Address:           "localhost:9190",
		KeepaliveInterval: 30 * time.Second,
		KeepaliveTimeout:  10 * time.Second,
	}
}

// Result is the outcome of a command
type Result struct {
	Accepted bool
	Reason   string
	CallID   string
}

// Client talks to a running call manager's in-call service
type Client struct {
	conn  *grpc.ClientConn
	owned bool
}

// Dial connects to the in-call service at cfg.Address. The connection is
// established lazily on the first call.
func Dial(cfg ClientConfig, extra ...grpc.DialOption) (*Client, error) {
	opts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                cfg.KeepaliveInterval,
			Timeout:             cfg.KeepaliveTimeout,
			PermitWithoutStream: true,
		}),
	}
	opts = append(opts, extra...)

	conn, err := grpc.NewClient(cfg.Address, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create in-call client for %s: %w", cfg.Address, err)
	}
	slog.Debug("[InCall] Client created", "address", cfg.Address)
	return &Client{conn: conn, owned: true}, nil
}

// NewClient wraps an existing connection; Close leaves it open
func NewClient(conn *grpc.ClientConn) *Client {
	return &Client{conn: conn}
}

// Close releases the connection if the client created it
func (c *Client) Close() error {
	if !c.owned {
		return nil
	}
	return c.conn.Close()
}

// Invoke sends a raw command
func (c *Client) Invoke(ctx context.Context, method string, req map[string]any) (Result, error) {
	in, err := structpb.NewStruct(req)
	if err != nil {
		return Result{}, fmt.Errorf("failed to encode %s request: %w", method, err)
	}
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, fullMethod(method), in, out); err != nil {
		return Result{}, err
	}
	var r reply
	if err := fromStruct(out, &r); err != nil {
		return Result{}, err
	}
	return Result{Accepted: r.Accepted, Reason: r.Reason, CallID: r.CallID}, nil
}

func (c *Client) onCall(ctx context.Context, method, callID string) (Result, error) {
	return c.Invoke(ctx, method, map[string]any{"call_id": callID})
}

// Answer answers a ringing call
func (c *Client) Answer(ctx context.Context, callID string, videoState int) (Result, error) {
	return c.Invoke(ctx, MethodAnswer, map[string]any{"call_id": callID, "video_state": videoState})
}

// Reject declines a ringing call, with an optional text reply
func (c *Client) Reject(ctx context.Context, callID, text string) (Result, error) {
	return c.Invoke(ctx, MethodReject, map[string]any{
		"call_id":      callID,
		"with_message": text != "",
		"text":         text,
	})
}

func (c *Client) Hold(ctx context.Context, callID string) (Result, error) {
	return c.onCall(ctx, MethodHold, callID)
}

func (c *Client) Unhold(ctx context.Context, callID string) (Result, error) {
	return c.onCall(ctx, MethodUnhold, callID)
}

func (c *Client) Disconnect(ctx context.Context, callID string) (Result, error) {
	return c.onCall(ctx, MethodDisconnect, callID)
}

func (c *Client) Mute(ctx context.Context, muted bool) (Result, error) {
	return c.Invoke(ctx, MethodMute, map[string]any{"muted": muted})
}

// SetAudioRoute switches to a route named as in call.ParseRoute
func (c *Client) SetAudioRoute(ctx context.Context, route string) (Result, error) {
	return c.Invoke(ctx, MethodSetAudioRoute, map[string]any{"route": route})
}

func (c *Client) PlayDtmf(ctx context.Context, callID string, digit rune) (Result, error) {
	return c.Invoke(ctx, MethodPlayDtmf, map[string]any{"call_id": callID, "digit": string(digit)})
}

func (c *Client) StopDtmf(ctx context.Context, callID string) (Result, error) {
	return c.onCall(ctx, MethodStopDtmf, callID)
}

func (c *Client) Conference(ctx context.Context, callID, otherID string) (Result, error) {
	return c.Invoke(ctx, MethodConference, map[string]any{"call_id": callID, "other_call_id": otherID})
}

func (c *Client) Split(ctx context.Context, callID string) (Result, error) {
	return c.onCall(ctx, MethodSplit, callID)
}

func (c *Client) Merge(ctx context.Context, callID string) (Result, error) {
	return c.onCall(ctx, MethodMerge, callID)
}

func (c *Client) Swap(ctx context.Context, callID string) (Result, error) {
	return c.onCall(ctx, MethodSwap, callID)
}

func (c *Client) PostDialContinue(ctx context.Context, callID string, proceed bool) (Result, error) {
	return c.Invoke(ctx, MethodPostDialContinue, map[string]any{"call_id": callID, "proceed": proceed})
}

// PhoneAccountSelected completes account selection for a call in SELECT_ACCOUNT
func (c *Client) PhoneAccountSelected(ctx context.Context, callID, acct string, setDefault bool) (Result, error) {
	return c.Invoke(ctx, MethodPhoneAccountSelected, map[string]any{
		"call_id":     callID,
		"account":     acct,
		"set_default": setDefault,
	})
}

// PlaceCall dials handle, on acct when it is not empty
func (c *Client) PlaceCall(ctx context.Context, handle, acct string, speakerphone bool) (Result, error) {
	return c.Invoke(ctx, MethodPlaceCall, map[string]any{
		"handle":       handle,
		"account":      acct,
		"speakerphone": speakerphone,
	})
}

// Calls returns the current call set
func (c *Client) Calls(ctx context.Context) ([]types.Call, error) {
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, fullMethod(MethodGetCalls), &structpb.Struct{}, out); err != nil {
		return nil, err
	}
	var r reply
	if err := fromStruct(out, &r); err != nil {
		return nil, err
	}
	return r.Calls, nil
}

// Subscription is an open update stream
type Subscription struct {
	stream grpc.ClientStream
}

// Recv blocks for the next update
func (s *Subscription) Recv() (types.Update, error) {
	msg := new(structpb.Struct)
	if err := s.stream.RecvMsg(msg); err != nil {
		return types.Update{}, err
	}
	var u types.Update
	if err := fromStruct(msg, &u); err != nil {
		return types.Update{}, err
	}
	return u, nil
}

// Subscribe opens the update stream. It starts with an add_call update per
// existing call, the audio state and the can-add-call flag. Cancel ctx to
// close it.
func (c *Client) Subscribe(ctx context.Context) (*Subscription, error) {
	desc := &ServiceDesc.Streams[0]
	stream, err := c.conn.NewStream(ctx, desc, fullMethod(MethodSubscribe))
	if err != nil {
		return nil, fmt.Errorf("failed to open subscription: %w", err)
	}
	if err := stream.SendMsg(&structpb.Struct{}); err != nil {
		return nil, fmt.Errorf("failed to send subscription request: %w", err)
	}
	if err := stream.CloseSend(); err != nil {
		return nil, fmt.Errorf("failed to close subscription send side: %w", err)
	}
	return &Subscription{stream: stream}, nil
}
