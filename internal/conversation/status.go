package conversation

import "github.com/savoirfairelinux/jami-client-android-sub001/internal/bridge"

// Status is the delivery state of an interaction. Text messages move
// Sending < Sent < Displayed or end in Failed; transfers move
// Created < Awaiting < Ongoing and end in one of the terminal states.
type Status int

const (
	StatusUnknown Status = iota
	StatusSending
	StatusSent
	StatusDisplayed
	StatusFailed

	StatusTransferCreated
	StatusTransferAwaitingPeer
	StatusTransferAwaitingHost
	StatusTransferOngoing
	StatusTransferFinished
	StatusTransferCanceled
	StatusTransferError
	StatusTransferUnjoinable
	StatusTransferTimeout
)

var statusNames = map[Status]string{
	StatusUnknown:              "unknown",
	StatusSending:              "sending",
	StatusSent:                 "sent",
	StatusDisplayed:            "displayed",
	StatusFailed:               "failed",
	StatusTransferCreated:      "transfer_created",
	StatusTransferAwaitingPeer: "transfer_awaiting_peer",
	StatusTransferAwaitingHost: "transfer_awaiting_host",
	StatusTransferOngoing:      "transfer_ongoing",
	StatusTransferFinished:     "transfer_finished",
	StatusTransferCanceled:     "transfer_canceled",
	StatusTransferError:        "transfer_error",
	StatusTransferUnjoinable:   "transfer_unjoinable",
	StatusTransferTimeout:      "transfer_timeout",
}

func (s Status) String() string {
	if n, ok := statusNames[s]; ok {
		return n
	}
	return "unknown"
}

// ParseStatus is the inverse of String.
func ParseStatus(name string) Status {
	for s, n := range statusNames {
		if n == name {
			return s
		}
	}
	return StatusUnknown
}

// rank orders the non-terminal states of each chain.
var rank = map[Status]int{
	StatusSending:              1,
	StatusSent:                 2,
	StatusDisplayed:            3,
	StatusTransferCreated:      1,
	StatusTransferAwaitingPeer: 2,
	StatusTransferAwaitingHost: 2,
	StatusTransferOngoing:      3,
}

// Terminal reports whether no further status change is accepted.
func (s Status) Terminal() bool {
	switch s {
	case StatusFailed, StatusTransferFinished, StatusTransferCanceled,
		StatusTransferError, StatusTransferUnjoinable, StatusTransferTimeout:
		return true
	}
	return false
}

func (s Status) transfer() bool { return s >= StatusTransferCreated }

// advance returns the status after observing next, and whether it changed.
// Late, duplicate and backward events are dropped.
func advance(cur, next Status) (Status, bool) {
	switch {
	case next == StatusUnknown || next == cur:
		return cur, false
	case cur == StatusUnknown:
		return next, true
	case cur.Terminal():
		return cur, false
	case cur.transfer() != next.transfer():
		return cur, false
	case next == StatusFailed:
		// A message already delivered somewhere does not become failed.
		if rank[cur] <= rank[StatusSending] {
			return next, true
		}
		return cur, false
	case next.Terminal():
		return next, true
	case rank[next] > rank[cur]:
		return next, true
	}
	return cur, false
}

func statusFromMessage(s bridge.MessageStatus) Status {
	switch s {
	case bridge.MessageSending:
		return StatusSending
	case bridge.MessageSent:
		return StatusSent
	case bridge.MessageDisplayed:
		return StatusDisplayed
	case bridge.MessageInvalid, bridge.MessageFailure:
		return StatusFailed
	}
	return StatusUnknown
}

func statusFromTransfer(c bridge.TransferCode) Status {
	switch c {
	case bridge.TransferCreated:
		return StatusTransferCreated
	case bridge.TransferWaitPeer:
		return StatusTransferAwaitingPeer
	case bridge.TransferWaitHost:
		return StatusTransferAwaitingHost
	case bridge.TransferOngoing:
		return StatusTransferOngoing
	case bridge.TransferFinished:
		return StatusTransferFinished
	case bridge.TransferClosedByHost:
		return StatusTransferCanceled
	case bridge.TransferClosedByPeer, bridge.TransferUnjoinablePeer:
		return StatusTransferUnjoinable
	case bridge.TransferUnsupported, bridge.TransferInvalidPath:
		return StatusTransferError
	case bridge.TransferTimeout:
		return StatusTransferTimeout
	}
	return StatusUnknown
}
