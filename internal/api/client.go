package api

import (
	"context"
	"encoding/base64"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// Client talks to the inspector over the profile socket.
type Client struct {
	conn *grpc.ClientConn
}

// Dial connects to the inspector's Unix domain socket.
func Dial(socketPath string) (*Client, error) {
	conn, err := grpc.NewClient(
		"unix://"+socketPath,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return nil, fmt.Errorf("dial inspector: %w", err)
	}
	return &Client{conn: conn}, nil
}

// Close closes the gRPC connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) call(ctx context.Context, method string, args map[string]any) (*structpb.Struct, error) {
	in, err := structpb.NewStruct(args)
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, "/"+ServiceName+"/"+method, in, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Status(ctx context.Context) (*structpb.Struct, error) {
	return c.call(ctx, "Status", nil)
}

func (c *Client) ListAccounts(ctx context.Context) (*structpb.Struct, error) {
	return c.call(ctx, "ListAccounts", nil)
}

// SmartList returns the smart list and the pending requests of an account.
// An empty accountID selects the current account.
func (c *Client) SmartList(ctx context.Context, accountID string) (*structpb.Struct, error) {
	return c.call(ctx, "SmartList", map[string]any{"account_id": accountID})
}

func (c *Client) LoadHistory(ctx context.Context, accountID, conversationID, fromID string, limit int) (*structpb.Struct, error) {
	return c.call(ctx, "LoadHistory", map[string]any{
		"account_id":      accountID,
		"conversation_id": conversationID,
		"from_id":         fromID,
		"limit":           limit,
	})
}

func (c *Client) Search(ctx context.Context, accountID, query string) (*structpb.Struct, error) {
	return c.call(ctx, "Search", map[string]any{"account_id": accountID, "query": query})
}

func (c *Client) StartConversation(ctx context.Context, accountID string, members []string) (*structpb.Struct, error) {
	list := make([]any, len(members))
	for i, m := range members {
		list[i] = m
	}
	return c.call(ctx, "StartConversation", map[string]any{"account_id": accountID, "members": list})
}

func (c *Client) SendText(ctx context.Context, accountID, conversationID, text string) (*structpb.Struct, error) {
	return c.call(ctx, "SendText", map[string]any{
		"account_id":      accountID,
		"conversation_id": conversationID,
		"text":            text,
	})
}

func (c *Client) AcceptRequest(ctx context.Context, accountID, from string) error {
	return c.resolve(ctx, "AcceptRequest", accountID, from)
}

func (c *Client) DiscardRequest(ctx context.Context, accountID, from string) error {
	return c.resolve(ctx, "DiscardRequest", accountID, from)
}

func (c *Client) resolve(ctx context.Context, method, accountID, from string) error {
	in, err := structpb.NewStruct(map[string]any{"account_id": accountID, "from": from})
	if err != nil {
		return err
	}
	return c.conn.Invoke(ctx, "/"+ServiceName+"/"+method, in, new(emptypb.Empty))
}

// ShareQR returns the account's share URI and its QR code as PNG.
func (c *Client) ShareQR(ctx context.Context, accountID string, size int) (string, []byte, error) {
	out, err := c.call(ctx, "ShareQR", map[string]any{"account_id": accountID, "size": size})
	if err != nil {
		return "", nil, err
	}
	png, err := base64.StdEncoding.DecodeString(out.GetFields()["png"].GetStringValue())
	if err != nil {
		return "", nil, fmt.Errorf("decode qr: %w", err)
	}
	return out.GetFields()["uri"].GetStringValue(), png, nil
}

// WatchStream receives events from Watch.
type WatchStream struct {
	stream grpc.ClientStream
}

// Recv blocks for the next event.
func (w *WatchStream) Recv() (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := w.stream.RecvMsg(out); err != nil {
		return nil, err
	}
	return out, nil
}

// Watch streams events whose kind starts with prefix until ctx ends.
func (c *Client) Watch(ctx context.Context, prefix string) (*WatchStream, error) {
	stream, err := c.conn.NewStream(ctx, &serviceDesc.Streams[0], "/"+ServiceName+"/Watch")
	if err != nil {
		return nil, err
	}
	in, err := structpb.NewStruct(map[string]any{"prefix": prefix})
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	return &WatchStream{stream: stream}, nil
}
