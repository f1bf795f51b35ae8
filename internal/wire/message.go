package wire

import "fmt"

// Kind enumerates every protocol message exchanged between processes.
type Kind uint8

const (
	KindInvalid Kind = iota

	// Worker -> coordinator requests.
	KindGetInfo
	KindSetInfo
	KindLock
	KindUnlock
	KindChangeMode
	KindCreate
	KindBarrier

	// Coordinator -> worker block push requests.
	KindPushReadOnly
	KindPushReadWrite

	// Replies and payloads.
	KindSource
	KindFault
	KindBlock
	KindLockGranted
	KindModeChanged
	KindReleased
	KindSignal
	KindDone
	KindDoneAck
	KindPartial

	// KindShutdown stops the receiving Protocol Task.
	KindShutdown
)

var kindNames = [...]string{
	KindInvalid:       "INVALID",
	KindGetInfo:       "GET_INFO",
	KindSetInfo:       "SET_INFO",
	KindLock:          "LOCK",
	KindUnlock:        "UNLOCK",
	KindChangeMode:    "CHANGE_MODE",
	KindCreate:        "CREATE",
	KindBarrier:       "BARRIER",
	KindPushReadOnly:  "GET_DATA_R",
	KindPushReadWrite: "GET_DATA_RW",
	KindSource:        "SOURCE",
	KindFault:         "FAULT",
	KindBlock:         "BLOCK",
	KindLockGranted:   "LOCK_GRANTED",
	KindModeChanged:   "MODE_CHANGED",
	KindReleased:      "RELEASED",
	KindSignal:        "SIGNAL",
	KindDone:          "DONE",
	KindDoneAck:       "DONE_ACK",
	KindPartial:       "PARTIAL",
	KindShutdown:      "SHUTDOWN",
}

// String returns the string representation of Kind.
func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("KIND(%d)", uint8(k))
}

// Valid reports whether k is a known message kind.
func (k Kind) Valid() bool {
	return k > KindInvalid && k <= KindShutdown
}

// Channel discriminates independent message streams between the same pair
// of processes. Replies never share a channel with requests.
type Channel uint8

const (
	ChannelRequest Channel = iota + 1
	ChannelHelper
	ChannelInfo
	ChannelData
	ChannelLock
	ChannelMode
	ChannelBarrier
	ChannelSignal
	ChannelFinalize
	ChannelReduce
)

// String returns the string representation of Channel.
func (c Channel) String() string {
	switch c {
	case ChannelRequest:
		return "request"
	case ChannelHelper:
		return "helper"
	case ChannelInfo:
		return "info"
	case ChannelData:
		return "data"
	case ChannelLock:
		return "lock"
	case ChannelMode:
		return "mode"
	case ChannelBarrier:
		return "barrier"
	case ChannelSignal:
		return "signal"
	case ChannelFinalize:
		return "finalize"
	case ChannelReduce:
		return "reduce"
	default:
		return fmt.Sprintf("channel(%d)", uint8(c))
	}
}

// Mode is the access mode of a shared array.
type Mode uint8

const (
	// ReadWrite keeps a single live writable copy per block.
	ReadWrite Mode = iota
	// ReadOnly allows many read-only replicas per block.
	ReadOnly
)

// String returns the string representation of Mode.
func (m Mode) String() string {
	switch m {
	case ReadWrite:
		return "READ_WRITE"
	case ReadOnly:
		return "READ_ONLY"
	default:
		return "UNKNOWN"
	}
}

// None is the rank/index value meaning "no process" or "not applicable".
const None = -1

// Message is a single protocol message. Fields not used by a kind are left
// at their zero value (or None where a rank is expected).
type Message struct {
	Kind    Kind
	Channel Channel
	// From is stamped by the transport with the sender's rank.
	From  int
	Key   int
	Block int
	// Target carries the single integer of the message: the chosen source for
	// KindSource, the destination for pushes, the element count for
	// KindCreate, the fault code for KindFault, the partial value for
	// KindPartial.
	Target    int64
	Mode      Mode
	Values    []int64
	RequestID string
}

// String returns a compact representation for logs.
func (m Message) String() string {
	return fmt.Sprintf("%s{ch=%s from=%d key=%d block=%d target=%d mode=%s n=%d request_id=%s}",
		m.Kind, m.Channel, m.From, m.Key, m.Block, m.Target, m.Mode, len(m.Values), m.RequestID)
}

// IsShutdown reports whether m is the all-fields shutdown sentinel.
func (m Message) IsShutdown() bool {
	return m.Kind == KindShutdown && m.Key == None && m.Block == None && m.Target == None
}

// GetInfo asks the coordinator which process supplies a block.
func GetInfo(key, block int, requestID string) Message {
	return Message{Kind: KindGetInfo, Channel: ChannelRequest, Key: key, Block: block, Target: None, RequestID: requestID}
}

// SetInfo announces that the sender now holds a usable copy of a block.
func SetInfo(key, block int, requestID string) Message {
	return Message{Kind: KindSetInfo, Channel: ChannelRequest, Key: key, Block: block, Target: None, RequestID: requestID}
}

// Lock requests the advisory lock of a block.
func Lock(key, block int) Message {
	return Message{Kind: KindLock, Channel: ChannelRequest, Key: key, Block: block, Target: None}
}

// Unlock releases the advisory lock of a block.
func Unlock(key, block int) Message {
	return Message{Kind: KindUnlock, Channel: ChannelRequest, Key: key, Block: block, Target: None}
}

// ChangeMode notifies the coordinator that the sender reached a mode switch.
func ChangeMode(key int, mode Mode) Message {
	return Message{Kind: KindChangeMode, Channel: ChannelRequest, Key: key, Block: None, Target: None, Mode: mode}
}

// Create registers an array of elements and enters the creation barrier.
func Create(key, elements int) Message {
	return Message{Kind: KindCreate, Channel: ChannelRequest, Key: key, Block: None, Target: int64(elements)}
}

// Barrier enters the all-process barrier.
func Barrier() Message {
	return Message{Kind: KindBarrier, Channel: ChannelRequest, Key: None, Block: None, Target: None}
}

// Push asks a worker to stream a block to the destination rank.
func Push(mode Mode, key, block, dest int, requestID string) Message {
	kind := KindPushReadWrite
	if mode == ReadOnly {
		kind = KindPushReadOnly
	}
	return Message{Kind: kind, Channel: ChannelHelper, Key: key, Block: block, Target: int64(dest), Mode: mode, RequestID: requestID}
}

// Source replies to GetInfo with the rank that supplies the block.
func Source(key, block, source int, requestID string) Message {
	return Message{Kind: KindSource, Channel: ChannelInfo, Key: key, Block: block, Target: int64(source), RequestID: requestID}
}

// Fault replies to a request the coordinator cannot serve.
func Fault(key, block int, code int64, requestID string) Message {
	return Message{Kind: KindFault, Channel: ChannelInfo, Key: key, Block: block, Target: code, RequestID: requestID}
}

// Block carries the elements of a block.
func Block(key, block int, values []int64, requestID string) Message {
	return Message{Kind: KindBlock, Channel: ChannelData, Key: key, Block: block, Target: None, Values: values, RequestID: requestID}
}

// LockGranted tells the requester it now holds the lock.
func LockGranted(key, block int) Message {
	return Message{Kind: KindLockGranted, Channel: ChannelLock, Key: key, Block: block, Target: None}
}

// ModeChanged releases a worker from the mode switch barrier.
func ModeChanged(key int, mode Mode) Message {
	return Message{Kind: KindModeChanged, Channel: ChannelMode, Key: key, Block: None, Target: None, Mode: mode}
}

// Released releases a process from a creation (key >= 0) or all-process
// (key == None) barrier.
func Released(key int) Message {
	return Message{Kind: KindReleased, Channel: ChannelBarrier, Key: key, Block: None, Target: None}
}

// Signal is a point-to-point notification.
func Signal() Message {
	return Message{Kind: KindSignal, Channel: ChannelSignal, Key: None, Block: None, Target: None}
}

// Done tells the coordinator a worker finished its computation.
func Done() Message {
	return Message{Kind: KindDone, Channel: ChannelFinalize, Key: None, Block: None, Target: None}
}

// DoneAck acknowledges Done.
func DoneAck() Message {
	return Message{Kind: KindDoneAck, Channel: ChannelFinalize, Key: None, Block: None, Target: None}
}

// Partial carries one partial result of a tree reduction.
func Partial(value int64) Message {
	return Message{Kind: KindPartial, Channel: ChannelReduce, Key: None, Block: None, Target: value}
}

// StopCoordinator is the sentinel that stops the coordinator Protocol Task.
func StopCoordinator() Message {
	return Message{Kind: KindShutdown, Channel: ChannelRequest, Key: None, Block: None, Target: None}
}

// StopWorker is the sentinel that stops a worker Protocol Task.
func StopWorker() Message {
	return Message{Kind: KindShutdown, Channel: ChannelHelper, Key: None, Block: None, Target: None}
}
