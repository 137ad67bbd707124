package bridge

import (
	"maps"
	"strconv"
	"time"
)

// DecodeAccount builds an AccountInfo from the daemon detail maps.
func DecodeAccount(id string, details, volatile, devices map[string]string) AccountInfo {
	info := AccountInfo{
		ID:             id,
		Alias:          details[KeyAlias],
		Username:       details[KeyUsername],
		DisplayName:    details[KeyDisplayName],
		RegisteredName: details[KeyRegisteredName],
		Enabled:        details[KeyEnabled] == "true",
		HasPassword:    details[KeyHasPassword] == "true",
		HasManager:     details[KeyManagerURI] != "",
		Devices:        maps.Clone(devices),
	}
	if info.Devices == nil {
		info.Devices = map[string]string{}
	}
	if v := volatile[KeyRegistrationStatus]; v != "" {
		info.RegistrationState = v
	} else {
		info.RegistrationState = details[KeyRegistrationStatus]
	}
	if info.RegisteredName == "" {
		info.RegisteredName = volatile[KeyRegisteredName]
	}
	return info
}

// DecodeMessage turns a commit into a typed Message.
func DecodeMessage(m SwarmMessage) Message {
	b := m.Body
	id := m.ID
	if id == "" {
		id = b["id"]
	}
	typ := m.Type
	if typ == "" {
		typ = b["type"]
	}
	parent := m.LinearizedParent
	if parent == "" {
		parent = b["linearizedParent"]
	}
	out := Message{
		ID:        id,
		Author:    b["author"],
		Parent:    parent,
		Timestamp: unixSeconds(b["timestamp"]),
		ReplyTo:   b["reply-to"],
	}
	switch typ {
	case "text/plain", "application/edited-message":
		out.Kind = MessageText
		out.Body = b["body"]
	case "application/data-transfer+json":
		out.Kind = MessageTransfer
		out.FileID = b["fileId"]
		out.FileName = b["displayName"]
		out.TotalSize, _ = strconv.ParseInt(b["totalSize"], 10, 64)
	case "application/call-history+json":
		out.Kind = MessageCall
		if ms, err := strconv.ParseInt(b["duration"], 10, 64); err == nil {
			out.Duration = time.Duration(ms) * time.Millisecond
		}
	case "member":
		out.Kind = MessageMember
		out.Action = memberActionFromCommit(b["action"])
		out.MemberURI = b["uri"]
	case "initial":
		if invited := b["invited"]; invited != "" {
			out.Kind = MessageMember
			out.Action = MemberAdd
			out.MemberURI = invited
		} else {
			out.Kind = MessageOther
		}
	default:
		out.Kind = MessageOther
	}
	if len(m.Status) > 0 {
		out.Status = make(map[string]MessageStatus, len(m.Status))
		for peer, code := range m.Status {
			out.Status[peer] = MessageStatus(code)
		}
	}
	return out
}

// DecodeMembers converts daemon member maps.
func DecodeMembers(raw []map[string]string) []Member {
	out := make([]Member, 0, len(raw))
	for _, m := range raw {
		if m["uri"] == "" {
			continue
		}
		out = append(out, Member{URI: m["uri"], Role: m["role"]})
	}
	return out
}

// DecodeMode parses the "mode" entry of conversation infos or request
// metadata. A conversation whose infos are not yet available is syncing.
func DecodeMode(infos map[string]string) ConversationMode {
	v, ok := infos["mode"]
	if !ok {
		if infos["syncing"] == "true" {
			return ModeSyncing
		}
		return ModeInvitesOnly
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 || n > int(ModePublic) {
		return ModeInvitesOnly
	}
	return ConversationMode(n)
}

// DecodeRequest converts conversation request metadata.
func DecodeRequest(accountID, conversationID string, meta map[string]string) ConversationRequestReceived {
	if conversationID == "" {
		conversationID = meta["id"]
	}
	return ConversationRequestReceived{
		AccountID:      accountID,
		ConversationID: conversationID,
		From:           meta["from"],
		Title:          meta["title"],
		Mode:           DecodeMode(meta),
		Received:       unixSeconds(meta["received"]),
	}
}

func unixSeconds(v string) time.Time {
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n <= 0 {
		return time.Time{}
	}
	return time.Unix(n, 0)
}
