package api

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/savoirfairelinux/jami-client-android-sub001/internal/account"
	"github.com/savoirfairelinux/jami-client-android-sub001/internal/bus"
	"github.com/savoirfairelinux/jami-client-android-sub001/internal/conversation"
	"github.com/savoirfairelinux/jami-client-android-sub001/internal/status"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// Inspector implements InspectorServer over the live caches.
type Inspector struct {
	profile   string
	startedAt time.Time
	accounts  *account.Cache
	convs     *conversation.Assembler
	machine   *status.Machine
	bus       *bus.Bus
	logger    *zap.Logger
}

var _ InspectorServer = (*Inspector)(nil)

// NewInspector creates the inspector service.
func NewInspector(profile string, accounts *account.Cache, convs *conversation.Assembler,
	machine *status.Machine, b *bus.Bus, logger *zap.Logger) *Inspector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Inspector{
		profile:   profile,
		startedAt: time.Now(),
		accounts:  accounts,
		convs:     convs,
		machine:   machine,
		bus:       b,
		logger:    logger,
	}
}

func (s *Inspector) Status(_ context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	state := ""
	if s.machine != nil {
		state = string(s.machine.Current())
	}
	current, _ := s.accounts.Current()
	return toStruct(map[string]any{
		"profile":         s.profile,
		"state":           state,
		"uptime_ms":       time.Since(s.startedAt).Milliseconds(),
		"accounts":        len(s.accounts.Accounts()),
		"current_account": current.ID,
		"dropped_events":  int64(s.bus.Dropped()),
	})
}

func (s *Inspector) ListAccounts(_ context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	list := s.accounts.Accounts()
	out := make([]any, 0, len(list))
	for _, a := range list {
		out = append(out, accountValue(a))
	}
	current, _ := s.accounts.Current()
	return toStruct(map[string]any{"accounts": out, "current": current.ID})
}

func (s *Inspector) SmartList(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	acc, err := s.accountArg(req)
	if err != nil {
		return nil, err
	}
	items := s.convs.Items(acc)
	pending := s.convs.PendingItems(acc)
	out := make([]any, 0, len(items))
	for _, it := range items {
		out = append(out, itemValue(it))
	}
	reqs := make([]any, 0, len(pending))
	for _, it := range pending {
		reqs = append(reqs, itemValue(it))
	}
	return toStruct(map[string]any{"items": out, "pending": reqs})
}

func (s *Inspector) LoadHistory(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	acc, err := s.accountArg(req)
	if err != nil {
		return nil, err
	}
	conv, err := stringArg(req, "conversation_id")
	if err != nil {
		return nil, err
	}
	page, err := s.convs.LoadHistory(ctx, acc, conv, optString(req, "from_id"), int(optNumber(req, "limit")))
	if err != nil {
		return nil, toStatus(err)
	}
	out := make([]any, 0, len(page))
	for _, i := range page {
		out = append(out, interactionValue(i))
	}
	return toStruct(map[string]any{"interactions": out})
}

func (s *Inspector) Search(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	acc, err := s.accountArg(req)
	if err != nil {
		return nil, err
	}
	query, err := stringArg(req, "query")
	if err != nil {
		return nil, err
	}
	items, err := s.convs.Search(ctx, acc, query)
	if err != nil {
		return nil, toStatus(err)
	}
	out := make([]any, 0, len(items))
	for _, it := range items {
		out = append(out, itemValue(it))
	}
	found, err := s.convs.SearchMessages(acc, query, int(optNumber(req, "limit")))
	if err != nil {
		return nil, toStatus(err)
	}
	msgs := make([]any, 0, len(found))
	for _, r := range found {
		msgs = append(msgs, map[string]any{
			"conversation_id": r.Interaction.ConversationID,
			"interaction_id":  r.Interaction.InteractionID,
			"author":          r.Interaction.Author,
			"snippet":         r.Snippet,
			"timestamp":       r.Interaction.Timestamp,
		})
	}
	return toStruct(map[string]any{"items": out, "messages": msgs})
}

func (s *Inspector) StartConversation(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	acc, err := s.accountArg(req)
	if err != nil {
		return nil, err
	}
	var members []string
	if v, ok := req.GetFields()["members"]; ok {
		for _, m := range v.GetListValue().GetValues() {
			members = append(members, m.GetStringValue())
		}
	}
	if len(members) == 0 {
		return nil, grpcstatus.Error(codes.InvalidArgument, "members is required")
	}
	c, err := s.convs.StartConversation(ctx, acc, members)
	if err != nil {
		return nil, toStatus(err)
	}
	return toStruct(map[string]any{"conversation_id": c.ID, "mode": c.Mode.String(), "title": c.Title})
}

func (s *Inspector) SendText(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	acc, err := s.accountArg(req)
	if err != nil {
		return nil, err
	}
	conv, err := stringArg(req, "conversation_id")
	if err != nil {
		return nil, err
	}
	text, err := stringArg(req, "text")
	if err != nil {
		return nil, err
	}
	i, err := s.convs.SendText(ctx, acc, conv, text, optString(req, "reply_to"))
	if err != nil {
		return nil, toStatus(err)
	}
	return toStruct(interactionValue(i))
}

func (s *Inspector) AcceptRequest(ctx context.Context, req *structpb.Struct) (*emptypb.Empty, error) {
	acc, err := s.accountArg(req)
	if err != nil {
		return nil, err
	}
	from, err := stringArg(req, "from")
	if err != nil {
		return nil, err
	}
	if err := s.convs.AcceptRequest(ctx, acc, from); err != nil {
		return nil, toStatus(err)
	}
	return &emptypb.Empty{}, nil
}

func (s *Inspector) DiscardRequest(ctx context.Context, req *structpb.Struct) (*emptypb.Empty, error) {
	acc, err := s.accountArg(req)
	if err != nil {
		return nil, err
	}
	from, err := stringArg(req, "from")
	if err != nil {
		return nil, err
	}
	if err := s.convs.DiscardRequest(ctx, acc, from); err != nil {
		return nil, toStatus(err)
	}
	return &emptypb.Empty{}, nil
}

func (s *Inspector) ShareQR(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	acc, err := s.accountArg(req)
	if err != nil {
		return nil, err
	}
	size := int(optNumber(req, "size"))
	if size <= 0 {
		size = 256
	}
	uri, err := s.accounts.ShareURI(acc)
	if err != nil {
		return nil, toStatus(err)
	}
	png, err := s.accounts.ShareQR(acc, size)
	if err != nil {
		return nil, toStatus(err)
	}
	return toStruct(map[string]any{"uri": uri, "png": png})
}

// Watch streams bus events whose kind starts with the requested prefix.
func (s *Inspector) Watch(req *structpb.Struct, stream grpc.ServerStream) error {
	prefix := optString(req, "prefix")
	ch, unsub := s.bus.Subscribe(prefix, 64)
	defer unsub()
	ctx := stream.Context()
	s.logger.Debug("watch started", zap.String("prefix", prefix))
	for {
		select {
		case evt, ok := <-ch:
			if !ok {
				return nil
			}
			msg, err := toStruct(map[string]any{
				"id":        uuid.NewString(),
				"kind":      evt.Kind,
				"timestamp": evt.Timestamp.UnixMilli(),
				"payload":   payloadValue(evt.Payload),
			})
			if err != nil {
				return err
			}
			if err := stream.SendMsg(msg); err != nil {
				return err
			}
		case <-ctx.Done():
			return nil
		}
	}
}

// accountArg returns the requested account, or the current one when the
// request names none.
func (s *Inspector) accountArg(req *structpb.Struct) (string, error) {
	if id := optString(req, "account_id"); id != "" {
		if _, ok := s.accounts.Get(id); !ok {
			return "", grpcstatus.Errorf(codes.NotFound, "account %s not found", id)
		}
		return id, nil
	}
	cur, ok := s.accounts.Current()
	if !ok {
		return "", grpcstatus.Error(codes.FailedPrecondition, "no current account")
	}
	return cur.ID, nil
}

func stringArg(req *structpb.Struct, key string) (string, error) {
	v := optString(req, key)
	if v == "" {
		return "", grpcstatus.Errorf(codes.InvalidArgument, "%s is required", key)
	}
	return v, nil
}

func optString(req *structpb.Struct, key string) string {
	return req.GetFields()[key].GetStringValue()
}

func optNumber(req *structpb.Struct, key string) float64 {
	return req.GetFields()[key].GetNumberValue()
}

func toStruct(m map[string]any) (*structpb.Struct, error) {
	s, err := structpb.NewStruct(m)
	if err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "encode response: %v", err)
	}
	return s, nil
}

func toStatus(err error) error {
	switch {
	case errors.Is(err, account.ErrUnknownAccount),
		errors.Is(err, conversation.ErrUnknownConversation),
		errors.Is(err, conversation.ErrUnknownInteraction):
		return grpcstatus.Error(codes.NotFound, err.Error())
	case errors.Is(err, context.Canceled):
		return grpcstatus.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return grpcstatus.Error(codes.DeadlineExceeded, err.Error())
	}
	return grpcstatus.Error(codes.Internal, err.Error())
}

func accountValue(a account.Account) map[string]any {
	devices := make(map[string]any, len(a.Devices))
	for id, name := range a.Devices {
		devices[id] = name
	}
	return map[string]any{
		"id":              a.ID,
		"alias":           a.Alias,
		"uri":             a.URI(),
		"display_name":    a.DisplayName,
		"registered_name": a.RegisteredName,
		"enabled":         a.Enabled,
		"state":           string(a.State),
		"raw_state":       a.RawState,
		"devices":         devices,
	}
}

func itemValue(it conversation.Item) map[string]any {
	m := map[string]any{
		"conversation_id": it.ConversationID,
		"contact_uri":     it.ContactURI,
		"title":           it.Title,
		"mode":            it.Mode.String(),
		"online":          it.Online,
	}
	if !it.LastActivity.IsZero() {
		m["last_activity"] = it.LastActivity.UnixMilli()
	}
	if it.HasLast {
		m["last"] = interactionValue(it.Last)
	}
	return m
}

func interactionValue(i conversation.Interaction) map[string]any {
	m := map[string]any{
		"id":              i.ID,
		"conversation_id": i.ConversationID,
		"kind":            string(i.Kind),
		"author":          i.Author,
		"incoming":        i.Incoming,
		"status":          i.Status.String(),
		"timestamp":       i.Timestamp.UnixMilli(),
	}
	switch i.Kind {
	case conversation.KindText:
		m["body"] = i.Body
		if i.ReplyTo != "" {
			m["reply_to"] = i.ReplyTo
		}
	case conversation.KindTransfer:
		m["file_name"] = i.FileName
		m["total_size"] = i.TotalSize
		m["bytes_transferred"] = i.BytesTransferred
	case conversation.KindCall:
		m["duration_ms"] = i.Duration.Milliseconds()
	case conversation.KindContact:
		m["member"] = i.MemberURI
		m["action"] = i.Action.String()
	}
	return m
}

func payloadValue(p any) any {
	switch v := p.(type) {
	case nil:
		return nil
	case string:
		return v
	case []string:
		out := make([]any, len(v))
		for i, s := range v {
			out[i] = s
		}
		return out
	case conversation.MessageNotification:
		return map[string]any{"account_id": v.AccountID, "conversation_id": v.ConversationID,
			"interaction_id": v.InteractionID, "author": v.Author, "body": v.Body}
	case conversation.RequestNotification:
		return map[string]any{"account_id": v.AccountID, "from": v.From, "conversation_id": v.ConversationID}
	case conversation.ResolvedNotification:
		return map[string]any{"account_id": v.AccountID, "from": v.From, "accepted": v.Accepted}
	case conversation.TransferNotification:
		return map[string]any{"account_id": v.AccountID, "conversation_id": v.ConversationID,
			"interaction_id": v.InteractionID, "status": v.Status.String(),
			"bytes_transferred": v.BytesTransferred, "total_size": v.TotalSize}
	case status.StatusChange:
		return map[string]any{"from": string(v.From), "to": string(v.To)}
	}
	return fmt.Sprintf("%+v", p)
}
